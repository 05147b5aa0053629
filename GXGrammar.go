package gxpressure

// --------------------------------------------------------------------------
//
//	Gurux Ltd
//
// Filename:        $HeadURL$
//
// Version:         $Revision$,
//
//	$Date$
//	$Author$
//
// # Copyright (c) Gurux Ltd
//
// ---------------------------------------------------------------------------
//
//	DESCRIPTION
//
// This file is a part of Gurux Device Framework.
//
// Gurux Device Framework is Open Source software; you can redistribute it
// and/or modify it under the terms of the GNU General Public License
// as published by the Free Software Foundation; version 2 of the License.
// Gurux Device Framework is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.
// See the GNU General Public License for more details.
//
// More information of Gurux products: https://www.gurux.org
//
// This code is licensed under the GNU General Public License v2.
// Full text may be retrieved at http://www.gnu.org/licenses/gpl-2.0.txt
// ---------------------------------------------------------------------------

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Command table keys.
const (
	CmdSetpoint        = "setpoint"
	CmdPressure        = "pressure"
	CmdUnit            = "unit"
	CmdStatus          = "status"
	CmdNextError       = "next_error"
	CmdMode            = "mode"
	CmdMeasurementType = "measurement_type"
	CmdUpperLimit      = "upper_limit"
	CmdLowerLimit      = "lower_limit"
	CmdStable          = "stable"
	CmdIdentify        = "identify"
	// CmdDifferential is an optional command that makes the active channel
	// differential. Without it the measurement type command is used.
	CmdDifferential    = "differential"
)

// Channel addressing of a command.
const (
	// AddressInline writes the channel label right after the mnemonic.
	AddressInline = "inline"
	// AddressSelect prefixes the command with a channel selection command.
	AddressSelect = "select"
	// AddressNone is used for commands that are not channel specific.
	AddressNone = "none"
)

// Unit placement for setpoint and limit commands.
const (
	// UnitSuffix appends the unit mnemonic to the value.
	UnitSuffix = "suffix"
	// UnitCommand sends the unit command before the value in the same line.
	UnitCommand = "command"
)

// ErrUnsupported is returned when the instrument model has no command for a
// request.
var ErrUnsupported = errors.New("gxpressure: request not supported by model")

// CommandSpec describes how one command is written on the wire.
type CommandSpec struct {
	Mnemonic string `yaml:"mnemonic" toml:"mnemonic"`
	// Suffix follows the channel, for example "?" for queries.
	Suffix string `yaml:"suffix,omitempty" toml:"suffix,omitempty"`
	// Addressing is one of AddressInline, AddressSelect or AddressNone.
	// Empty selects the grammar default.
	Addressing string `yaml:"addressing,omitempty" toml:"addressing,omitempty"`
}

// UnitSpec describes one supported engineering unit.
type UnitSpec struct {
	// Mnemonic is written in commands.
	Mnemonic string `yaml:"mnemonic" toml:"mnemonic"`
	// Reply is the token the instrument echoes after a reading.
	Reply string  `yaml:"reply,omitempty" toml:"reply,omitempty"`
	Min   float64 `yaml:"min" toml:"min"`
	Max   float64 `yaml:"max" toml:"max"`
}

// Grammar is the command language of one instrument model. Grammars are
// read-only after they have been registered or passed to Connect.
type Grammar struct {
	Model        string `yaml:"model" toml:"model"`
	Manufacturer string `yaml:"manufacturer,omitempty" toml:"manufacturer,omitempty"`
	Channels     int    `yaml:"channels" toml:"channels"`
	// ChannelLabels replace channel numbers on the wire, e.g. A and B.
	ChannelLabels []string `yaml:"channel_labels,omitempty" toml:"channel_labels,omitempty"`
	// SelectMnemonic is used with AddressSelect, e.g. "Chan".
	SelectMnemonic    string `yaml:"select_mnemonic,omitempty" toml:"select_mnemonic,omitempty"`
	CommandTerminator string `yaml:"command_terminator" toml:"command_terminator"`
	ReplyTerminator   string `yaml:"reply_terminator" toml:"reply_terminator"`
	ArgSeparator      string `yaml:"arg_separator" toml:"arg_separator"`
	CompoundSeparator string `yaml:"compound_separator,omitempty" toml:"compound_separator,omitempty"`
	Precision         int    `yaml:"precision" toml:"precision"`
	UnitPlacement     string `yaml:"unit_placement,omitempty" toml:"unit_placement,omitempty"`
	// AckRequired is true when the instrument answers every write.
	AckRequired bool   `yaml:"ack_required" toml:"ack_required"`
	AckToken    string `yaml:"ack_token,omitempty" toml:"ack_token,omitempty"`
	NoErrorCode int    `yaml:"no_error_code" toml:"no_error_code"`
	// FaultPrefix marks replies of a command that failed.
	FaultPrefix      string                 `yaml:"fault_prefix,omitempty" toml:"fault_prefix,omitempty"`
	Commands         map[string]CommandSpec `yaml:"commands" toml:"commands"`
	Units            map[string]UnitSpec    `yaml:"units" toml:"units"`
	Modes            map[string]string      `yaml:"modes,omitempty" toml:"modes,omitempty"`
	MeasurementTypes map[string]string      `yaml:"measurement_types,omitempty" toml:"measurement_types,omitempty"`

	// FaultDetector overrides FaultPrefix. It receives the reply without
	// terminator.
	FaultDetector func(reply string) bool `yaml:"-" toml:"-"`
}

// Validate checks the grammar and fills defaults.
func (g *Grammar) Validate() error {
	if g.Model == "" {
		return errors.New("grammar: model is not set")
	}
	if g.Channels < 1 {
		return fmt.Errorf("grammar %s: invalid channel count %d", g.Model, g.Channels)
	}
	if len(g.ChannelLabels) != 0 && len(g.ChannelLabels) != g.Channels {
		return fmt.Errorf("grammar %s: %d channel labels for %d channels", g.Model, len(g.ChannelLabels), g.Channels)
	}
	if g.CommandTerminator == "" {
		return fmt.Errorf("grammar %s: command terminator is not set", g.Model)
	}
	if len(g.ReplyTerminator) != 1 {
		return fmt.Errorf("grammar %s: reply terminator must be one byte", g.Model)
	}
	if g.Precision < 0 || g.Precision > 10 {
		return fmt.Errorf("grammar %s: invalid precision %d", g.Model, g.Precision)
	}
	if g.CompoundSeparator == "" {
		g.CompoundSeparator = ";"
	}
	switch g.UnitPlacement {
	case "":
		g.UnitPlacement = UnitSuffix
	case UnitSuffix, UnitCommand:
	default:
		return fmt.Errorf("grammar %s: invalid unit placement %q", g.Model, g.UnitPlacement)
	}
	for _, key := range []string{CmdPressure, CmdNextError} {
		if _, ok := g.Commands[key]; !ok {
			return fmt.Errorf("grammar %s: command %s is missing", g.Model, key)
		}
	}
	for key, c := range g.Commands {
		switch c.Addressing {
		case "", AddressInline, AddressNone:
		case AddressSelect:
			if g.SelectMnemonic == "" {
				return fmt.Errorf("grammar %s: command %s uses select addressing without select mnemonic", g.Model, key)
			}
		default:
			return fmt.Errorf("grammar %s: command %s has invalid addressing %q", g.Model, key, c.Addressing)
		}
	}
	units := make(map[string]UnitSpec, len(g.Units))
	normalized := true
	for name, u := range g.Units {
		pu, err := ParsePressureUnit(name)
		if err != nil {
			return fmt.Errorf("grammar %s: %w", g.Model, err)
		}
		if u.Mnemonic == "" {
			return fmt.Errorf("grammar %s: unit %s has no mnemonic", g.Model, pu)
		}
		if u.Min > u.Max {
			return fmt.Errorf("grammar %s: unit %s range %g > %g", g.Model, pu, u.Min, u.Max)
		}
		units[pu.String()] = u
		normalized = normalized && name == pu.String()
	}
	if !normalized {
		g.Units = units
	}
	return nil
}

// IsFault returns true if the reply carries the fault marker of the model.
func (g *Grammar) IsFault(raw []byte) bool {
	text, err := g.trimTerminator(raw)
	if err != nil {
		return false
	}
	if g.FaultDetector != nil {
		return g.FaultDetector(text)
	}
	return g.FaultPrefix != "" && strings.HasPrefix(strings.TrimLeft(text, " "), g.FaultPrefix)
}

// terminator returns the reply terminator byte.
func (g *Grammar) terminator() byte {
	return g.ReplyTerminator[0]
}

func (g *Grammar) unit(u PressureUnit) (UnitSpec, bool) {
	if u == UnitNone {
		return UnitSpec{}, false
	}
	us, ok := g.Units[u.String()]
	return us, ok
}

// label returns the wire label of the channel.
func (g *Grammar) label(ch Channel) string {
	if len(g.ChannelLabels) != 0 {
		return g.ChannelLabels[ch-1]
	}
	return fmt.Sprint(int(ch))
}

func (g *Grammar) addressing(c CommandSpec) string {
	if c.Addressing != "" {
		return c.Addressing
	}
	if g.SelectMnemonic != "" {
		return AddressSelect
	}
	return AddressInline
}

func (g *Grammar) modeMnemonic(m ControlMode) string {
	if v, ok := g.Modes[m.String()]; ok {
		return v
	}
	return m.String()
}

func (g *Grammar) measurementMnemonic(t MeasurementType) string {
	if v, ok := g.MeasurementTypes[t.String()]; ok {
		return v
	}
	return t.String()
}

var (
	grammarsMu sync.RWMutex
	grammars   = map[string]*Grammar{}
)

// RegisterGrammar adds grammar to the table of known models. An existing
// grammar with the same model is replaced.
func RegisterGrammar(g *Grammar) error {
	if err := g.Validate(); err != nil {
		return err
	}
	grammarsMu.Lock()
	grammars[strings.ToLower(g.Model)] = g
	grammarsMu.Unlock()
	return nil
}

// LookupGrammar returns the grammar of the given model.
func LookupGrammar(model string) (*Grammar, error) {
	grammarsMu.RLock()
	defer grammarsMu.RUnlock()
	g, ok := grammars[strings.ToLower(model)]
	if !ok {
		return nil, fmt.Errorf("unknown instrument model %q", model)
	}
	return g, nil
}

// Models returns the registered model names.
func Models() []string {
	grammarsMu.RLock()
	defer grammarsMu.RUnlock()
	ret := make([]string, 0, len(grammars))
	for _, g := range grammars {
		ret = append(ret, g.Model)
	}
	sort.Strings(ret)
	return ret
}

// LoadGrammar reads a grammar from a YAML or TOML file. The format is
// selected by the file extension.
func LoadGrammar(path string) (*Grammar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read grammar: %w", err)
	}
	return ParseGrammar(data, strings.TrimPrefix(filepath.Ext(path), "."))
}

// ParseGrammar parses grammar in the given format ("yaml", "yml" or "toml").
func ParseGrammar(data []byte, format string) (*Grammar, error) {
	g := &Grammar{}
	switch strings.ToLower(format) {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, g); err != nil {
			return nil, fmt.Errorf("parse grammar: %w", err)
		}
	case "toml":
		if _, err := toml.Decode(string(data), g); err != nil {
			return nil, fmt.Errorf("parse grammar: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported grammar format %q", format)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// GenericGrammar returns the grammar of a SCPI style controller that
// acknowledges every write with OK and echoes units after readings.
func GenericGrammar() *Grammar {
	return &Grammar{
		Model:             "generic",
		Channels:          3,
		CommandTerminator: "\n",
		ReplyTerminator:   "\n",
		ArgSeparator:      ",",
		CompoundSeparator: ";",
		Precision:         3,
		UnitPlacement:     UnitSuffix,
		AckRequired:       true,
		AckToken:          "OK",
		NoErrorCode:       0,
		FaultPrefix:       "ERR",
		Commands: map[string]CommandSpec{
			CmdSetpoint:        {Mnemonic: "SP"},
			CmdPressure:        {Mnemonic: "PRES", Suffix: "?"},
			CmdUnit:            {Mnemonic: "UNIT"},
			CmdStatus:          {Mnemonic: "STAT", Suffix: "?"},
			CmdNextError:       {Mnemonic: "SYST:ERR?", Addressing: AddressNone},
			CmdMode:            {Mnemonic: "MODE"},
			CmdMeasurementType: {Mnemonic: "PTYPE"},
			CmdUpperLimit:      {Mnemonic: "UL"},
			CmdLowerLimit:      {Mnemonic: "LL"},
			CmdStable:          {Mnemonic: "STAB", Suffix: "?"},
			CmdIdentify:        {Mnemonic: "*IDN?", Addressing: AddressNone},
		},
		Units: map[string]UnitSpec{
			"PSI":   {Mnemonic: "PSI", Reply: "PSI", Min: -15, Max: 1000},
			"BAR":   {Mnemonic: "BAR", Reply: "BAR", Min: -1, Max: 69},
			"MBAR":  {Mnemonic: "MBAR", Reply: "MBAR", Min: -1000, Max: 69000},
			"PA":    {Mnemonic: "PA", Reply: "PA", Min: -100000, Max: 6900000},
			"KPA":   {Mnemonic: "KPA", Reply: "KPA", Min: -100, Max: 6900},
			"MPA":   {Mnemonic: "MPA", Reply: "MPA", Min: -0.1, Max: 6.9},
			"TORR":  {Mnemonic: "TORR", Reply: "TORR", Min: 0, Max: 51700},
			"MTORR": {Mnemonic: "MTORR", Reply: "MTORR", Min: 0, Max: 100000},
			"ATM":   {Mnemonic: "ATM", Reply: "ATM", Min: -1, Max: 68},
			"INHG":  {Mnemonic: "INHG", Reply: "INHG", Min: -30, Max: 2036},
			"MMHG":  {Mnemonic: "MMHG", Reply: "MMHG", Min: -760, Max: 51700},
			"INH2O": {Mnemonic: "INH2O", Reply: "INH2O", Min: -400, Max: 27680},
		},
	}
}

// Mensor600Grammar returns the grammar of the Mensor 600 series modular
// pressure controllers. Writes are not acknowledged; failed commands set
// an E prefix on the following reply.
func Mensor600Grammar() *Grammar {
	return &Grammar{
		Model:             "600",
		Manufacturer:      "MENSOR",
		Channels:          2,
		ChannelLabels:     []string{"A", "B"},
		SelectMnemonic:    "Chan",
		CommandTerminator: "\r",
		ReplyTerminator:   "\n",
		ArgSeparator:      " ",
		CompoundSeparator: ";",
		Precision:         4,
		UnitPlacement:     UnitCommand,
		AckRequired:       false,
		NoErrorCode:       0,
		FaultPrefix:       "E",
		Commands: map[string]CommandSpec{
			CmdSetpoint:        {Mnemonic: "Setpt"},
			CmdPressure:        {Suffix: "?", Addressing: AddressInline},
			CmdUnit:            {Mnemonic: "Units"},
			CmdStatus:          {Mnemonic: "Mode", Suffix: "?"},
			CmdNextError:       {Mnemonic: "Error?", Addressing: AddressNone},
			CmdMode:            {Mnemonic: "Mode"},
			CmdMeasurementType: {Mnemonic: "Ptype"},
			CmdDifferential:    {Mnemonic: "Chan D", Addressing: AddressNone},
			CmdUpperLimit:      {Mnemonic: "UpperLimit"},
			CmdLowerLimit:      {Mnemonic: "LowerLimit"},
			CmdStable:          {Mnemonic: "Stable", Suffix: "?"},
			CmdIdentify:        {Mnemonic: "*IDN?", Addressing: AddressNone},
		},
		Units: map[string]UnitSpec{
			"PSI":   {Mnemonic: "1", Reply: "psi", Min: 0, Max: 1000},
			"INHG":  {Mnemonic: "2", Reply: "inHg @0C", Min: 0, Max: 2036},
			"INH2O": {Mnemonic: "4", Reply: "inH2O @4C", Min: 0, Max: 27680},
			"MTORR": {Mnemonic: "10", Reply: "mTorr", Min: 0, Max: 100000},
			"ATM":   {Mnemonic: "13", Reply: "atm", Min: 0, Max: 68},
			"BAR":   {Mnemonic: "14", Reply: "bar", Min: 0, Max: 69},
			"MBAR":  {Mnemonic: "15", Reply: "mbar", Min: 0, Max: 69000},
			"MMHG":  {Mnemonic: "19", Reply: "mmHg @0C", Min: 0, Max: 51700},
			"TORR":  {Mnemonic: "21", Reply: "Torr", Min: 0, Max: 51700},
			"KPA":   {Mnemonic: "22", Reply: "kPa", Min: 0, Max: 6900},
			"PA":    {Mnemonic: "23", Reply: "Pa", Min: 0, Max: 6900000},
		},
		Modes: map[string]string{
			ModeStandby.String(): "Standby",
			ModeMeasure.String(): "Measure",
			ModeControl.String(): "Control",
			ModeVent.String():    "Vent",
		},
		MeasurementTypes: map[string]string{
			Absolute.String(): "A",
			Gauge.String():    "G",
		},
	}
}

//nolint:errcheck
func init() {
	RegisterGrammar(GenericGrammar())
	RegisterGrammar(Mensor600Grammar())
}
