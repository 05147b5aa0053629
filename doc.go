// Package gxpressure implements the command and reply protocol of modular
// pressure controllers connected over GPIB style buses. A Session owns one
// Transport, encodes typed requests with the Grammar of the instrument
// model, decodes the replies and reads the instrument error queue when a
// command fails.
//
// Features
//
//   - Typed requests: setpoint, pressure reading, unit, status, mode,
//     measurement type, limits, stability, identification and error queue.
//   - Model grammars: built-in generic and Mensor 600 grammars; more can be
//     loaded from YAML or TOML files with LoadGrammar.
//   - Retries: timeouts and transport failures are repeated up to
//     MaxRetries times before the session is faulted.
//   - Error queue: faulted replies are followed by a bounded drain of the
//     instrument error queue.
//   - Tracing: configurable trace level for sent, received, error and info.
//   - Metrics: NewCollector exports session counters to Prometheus.
//
// # Construction
//
// Use Connect with a Transport. MediaTransport adapts a Gurux media such as
// gxserial.GXSerial, StreamTransport runs over a TCP connection to a
// GPIB-LAN gateway and GXSimulator emulates an instrument in memory.
//
// Example
//
//	media := gxserial.NewGXSerial("COM1", gxcommon.BaudRate(9600), 8, gxcommon.StopBitsOne, gxcommon.ParityNone)
//	t, err := gxpressure.NewMediaTransport(media)
//	if err != nil {
//	    // handle open error
//	}
//	g, _ := gxpressure.LookupGrammar("600")
//	s, err := gxpressure.Connect(t, g, gxpressure.WithTimeout(time.Second))
//	if err != nil {
//	    // handle error
//	}
//	defer s.Close()
//
//	if _, err := s.Execute(gxpressure.SetUnit{Channel: 1, Unit: gxpressure.PSI}); err != nil {
//	    // handle error
//	}
//	resp, err := s.Execute(gxpressure.ReadPressure{Channel: 1})
//	if err == nil {
//	    fmt.Println(resp.(gxpressure.PressureReading).Value)
//	}
//
// # Errors
//
// Requests that can't be encoded return *EncodeError and nothing is sent.
// Other failures return *ProtocolError. Use errors.Is with ErrTimeout,
// ErrBusy, ErrInstrumentFault, ErrErrorQueueOverflow, ErrProtocolViolation,
// ErrSessionFaulted or ErrClosed, and Faults to read the drained error
// queue entries.
//
// # Notes
//
// A Session executes one request at a time. A second call made while a
// request is in progress fails with ErrBusy instead of waiting.
package gxpressure
