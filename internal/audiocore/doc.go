// Package audiocore implements the capture engine of the appliance: it opens
// the input device, runs every callback block through the processing chain
// and hands the processed audio to registered consumers.
//
// # Processing chain
//
// Each block delivered by the device callback is processed in place, in this
// order:
//
//  1. Gain: linear scale by 10^(dB/20), skipped at 0 dB
//  2. Soft limiter: tanh(drive*x) when enabled
//  3. Level meter: RMS and peak of the processed block, stored in the shared status
//  4. Dispatch: a snapshot of the consumer registry receives the block
//
// The gain is read from the shared status once per block, so an operator
// change applies to the next block without restarting capture.
//
// # Concurrency
//
// The device callback runs on a thread owned by the audio backend. Consumers
// are called synchronously from that thread and must not block; a consumer
// error or panic is logged and never reaches the device.
//
// CaptureLoop owns the device session. It reopens the device after failures
// until Stop is called, reporting every transition through DeviceStatus.
package audiocore
