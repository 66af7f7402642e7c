// Package register defines the Modbus register data model shared by the scan engine,
// the transport drivers and the output renderers.
//
// A register read always produces an Info, even when the device did not answer:
// failure is recorded in Info.Accessible and Info.Error rather than returned as an
// error. Inaccessible registers carry the synthetic default value of their data type
// (false for coils and discrete inputs, 0 for holding and input registers).
//
// The Reader interface is the contract between the engine and a transport. One Reader
// represents one wire connection to one device and must not be used concurrently.
package register
