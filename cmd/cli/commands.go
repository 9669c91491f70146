package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/ValentinKolb/rKV/lib/store"
	"github.com/spf13/cobra"
)

var (
	pingCmd = &cobra.Command{
		Use:   "ping",
		Short: "Checks that the server is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now()
			if err := rpcClient.Ping(); err != nil {
				return err
			}
			fmt.Printf("PONG (%s)\n", time.Since(start))
			return nil
		},
	}
	setCmd = &cobra.Command{
		Use:   "set [key] [value]",
		Short: "Sets the value for a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ttl, err := cmd.Flags().GetDuration("px")
			if err != nil {
				return err
			}
			if err := rpcClient.Set(args[0], args[1], ttl); err != nil {
				return err
			}
			fmt.Println("OK")
			return nil
		},
	}
	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Gets the value for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, loaded, err := rpcClient.Get(args[0])
			if err != nil {
				return err
			}
			if !loaded {
				fmt.Println("(nil)")
				return nil
			}
			fmt.Println(value)
			return nil
		},
	}
	incrCmd = &cobra.Command{
		Use:   "incr [key]",
		Short: "Increments the integer stored at key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := rpcClient.Incr(args[0])
			if err != nil {
				return err
			}
			fmt.Println(n)
			return nil
		},
	}
	keysCmd = &cobra.Command{
		Use:   "keys",
		Short: "Lists all keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := rpcClient.Keys()
			if err != nil {
				return err
			}
			for _, k := range keys {
				fmt.Println(k)
			}
			return nil
		},
	}
	typeCmd = &cobra.Command{
		Use:   "type [key]",
		Short: "Prints the type of the value stored at key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := rpcClient.Do("TYPE", args[0])
			if err != nil {
				return err
			}
			fmt.Println(v.Str)
			return nil
		},
	}
	xaddCmd = &cobra.Command{
		Use:   "xadd [key] [id] [field value]...",
		Short: "Appends an entry to a stream, use * or ms-* for generated ids",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) < 4 || len(args)%2 != 0 {
				return fmt.Errorf("expected key, id and at least one field value pair")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			fields := make([]store.Field, 0, (len(args)-2)/2)
			for i := 2; i < len(args); i += 2 {
				fields = append(fields, store.Field{Name: args[i], Value: args[i+1]})
			}
			id, err := rpcClient.XAdd(args[0], args[1], fields)
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	}
	xrangeCmd = &cobra.Command{
		Use:   "xrange [key] [start] [end]",
		Short: "Lists the stream entries between start and end (inclusive, - and + are open bounds)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := rpcClient.Do("XRANGE", args...)
			if err != nil {
				return err
			}
			for _, entry := range v.Elems {
				if len(entry.Elems) != 2 {
					continue
				}
				pairs := make([]string, 0, len(entry.Elems[1].Elems)/2)
				for i := 0; i+1 < len(entry.Elems[1].Elems); i += 2 {
					pairs = append(pairs, entry.Elems[1].Elems[i].Str+"="+entry.Elems[1].Elems[i+1].Str)
				}
				fmt.Printf("%s\t%s\n", entry.Elems[0].Str, strings.Join(pairs, " "))
			}
			return nil
		},
	}
	infoCmd = &cobra.Command{
		Use:   "info [section]",
		Short: "Prints server information (server, clients, stats, commandstats, replication)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			section := ""
			if len(args) == 1 {
				section = args[0]
			}
			text, err := rpcClient.Info(section)
			if err != nil {
				return err
			}
			fmt.Println(strings.ReplaceAll(text, "\r\n", "\n"))
			return nil
		},
	}
	rawCmd = &cobra.Command{
		Use:   "raw [command] [args]...",
		Short: "Sends an arbitrary command and prints the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := rpcClient.Do(args[0], args[1:]...)
			if err != nil && !v.IsError() {
				return err
			}
			fmt.Println(v.String())
			return nil
		},
	}
)

func init() {
	setCmd.Flags().Duration("px", 0, "Expire the key after this duration (e.g. 1500ms, 10s)")
}
