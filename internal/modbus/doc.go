// Package modbus implements register.Reader over a real Modbus connection.
//
// Two driver libraries are supported and selected by name:
//
//   - simonvetter (github.com/simonvetter/modbus), the default, handling tcp://,
//     udp://, rtu:// and rtuovertcp:// URLs.
//   - goburrow (github.com/goburrow/modbus), handling tcp:// and rtu:// URLs.
//
// Both are wrapped behind a small device interface so the Client owns argument
// validation, value decoding, retries and the translation of library errors and Modbus
// exception codes into register.ReadError values.
//
// A Client serializes its requests; one Client corresponds to one connection and
// therefore one batch optimizer.
package modbus
