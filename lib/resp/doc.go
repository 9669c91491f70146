// Package resp implements the line-oriented binary wire protocol spoken by rKV
// clients, followers and the leader.
//
// Wire format:
//
//	+text\r\n            simple string
//	-text\r\n            simple error
//	:n\r\n               integer (INCR replies)
//	$len\r\n<bytes>\r\n  bulk string (binary safe)
//	$-1\r\n              null
//	*count\r\n<values>   array
//
// Requests are always arrays of bulk strings, the first element being the
// command name. The same shape is used by the leader to propagate writes to
// its followers.
//
// Key Components:
//
//   - Value: A decoded value. Constructors (SimpleString, BulkString, Null,
//     Integer, Array, Error, Command) create values for encoding.
//
//   - Encode / AppendEncode: Encoding is infallible and allocation friendly.
//
//   - Decode: Stateless decoding of exactly one value from a buffer. It
//     reports ErrNeedMoreData for incomplete frames and *ProtocolError for
//     malformed ones, consuming nothing in both cases.
//
//   - Decoder: A resumable decoder over an io.Reader. It buffers partial
//     frames across reads and reports the wire size of every value, which the
//     follower uses to maintain its replication offset. ReadBlob reads the
//     snapshot payload sent during a full resync, which is framed like a bulk
//     string but without the trailing terminator.
//
// Usage Example:
//
//	dec := resp.NewDecoder(conn)
//	for {
//		v, _, err := dec.ReadValue()
//		if err != nil {
//			return err
//		}
//		args, err := v.Args()
//		...
//		conn.Write(resp.Encode(resp.SimpleString("OK")))
//	}
package resp
