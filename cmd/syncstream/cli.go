package main

var cli struct {
	Config  string `help:"YAML config file; compiled-in defaults are used when empty" type:"path"`
	Verbose bool   `help:"Log every transfer"`
	Rx      struct {
		Iterations int  `help:"Override the configured iteration count" default:"-1"`
		Unbounded  bool `help:"Stream until interrupted"`
	} `cmd:"" help:"Receive timestamped blocks and report their power"`
	Tx struct {
		Iterations int  `help:"Override the configured iteration count" default:"-1"`
		Unbounded  bool `help:"Stream until interrupted"`
	} `cmd:"" help:"Transmit a CW tone as timestamped bursts"`
	Probe struct {
	} `cmd:"" help:"Open the configured device and report its clocks"`
}
