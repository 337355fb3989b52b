// Package errors classifies failures seen by the monitor so callers can decide
// between retrying, dropping the input, or stopping.
//
// Three classes exist:
//
//   - Transient: the transport failed or timed out. The feed runner retries.
//   - Invalid: a frame, beacon, or file could not be interpreted. The input is
//     dropped and processing continues.
//   - Fatal: configuration or resource failures that stop the process.
//
// Errors are wrapped with component and method context:
//
//	return errors.WrapInvalid(err, "decoder", "Decode", "unpack field")
//	// decoder.Decode: unpack field failed: <cause>
//
// Classification works through wrapping chains, so errors.Is and errors.As from
// the standard library keep working on the returned values.
package errors
