/*
Package main contains a command-line example for gxpressure.

The example shows how to:
  - open a serial port, a GPIB-LAN gateway or the built-in simulator
  - select the instrument grammar by model or from a YAML/TOML file
  - log session traces, state changes and errors with zerolog
  - set the unit and setpoint of a channel
  - poll pressure readings and publish them to Redis
  - export session metrics for Prometheus
*/
package main
