package client

import (
	"fmt"
	"strconv"
	"time"

	"github.com/ValentinKolb/rKV/lib/resp"
	"github.com/ValentinKolb/rKV/lib/store"
)

// --------------------------------------------------------------------------
// Typed command helpers
// --------------------------------------------------------------------------

// Ping sends PING and expects PONG
func (c *Client) Ping() error {
	_, err := c.Do("PING")
	return err
}

// Set stores value at key. A ttl of zero means no expiry.
func (c *Client) Set(key, value string, ttl time.Duration) error {
	var err error
	if ttl > 0 {
		_, err = c.Do("SET", key, value, "PX", strconv.FormatInt(ttl.Milliseconds(), 10))
	} else {
		_, err = c.Do("SET", key, value)
	}
	return err
}

// Get returns the value at key, loaded is false if the key is absent
func (c *Client) Get(key string) (value string, loaded bool, err error) {
	v, err := c.Do("GET", key)
	if err != nil || v.IsNull() {
		return "", false, err
	}
	return v.Str, true, nil
}

// Incr increments the integer at key
func (c *Client) Incr(key string) (int64, error) {
	v, err := c.Do("INCR", key)
	if err != nil {
		return 0, err
	}
	if v.Kind != resp.KindInteger {
		return 0, fmt.Errorf("unexpected INCR reply %s", v)
	}
	return v.Int, nil
}

// XAdd appends an entry to a stream and returns its id
func (c *Client) XAdd(key, id string, fields []store.Field) (string, error) {
	args := make([]string, 0, 2+2*len(fields))
	args = append(args, key, id)
	for _, f := range fields {
		args = append(args, f.Name, f.Value)
	}
	v, err := c.Do("XADD", args...)
	if err != nil {
		return "", err
	}
	return v.Str, nil
}

// Keys returns all keys
func (c *Client) Keys() ([]string, error) {
	v, err := c.Do("KEYS", "*")
	if err != nil {
		return nil, err
	}
	return bulkStrings(v), nil
}

// Info returns the INFO text of a section, all sections if section is empty
func (c *Client) Info(section string) (string, error) {
	var v resp.Value
	var err error
	if section == "" {
		v, err = c.Do("INFO")
	} else {
		v, err = c.Do("INFO", section)
	}
	return v.Str, err
}

func bulkStrings(v resp.Value) []string {
	out := make([]string, 0, len(v.Elems))
	for _, e := range v.Elems {
		out = append(out, e.Str)
	}
	return out
}
