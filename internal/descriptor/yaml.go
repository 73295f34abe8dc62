package descriptor

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"pitchgrid-bridge/internal/bridgeerr"
	"pitchgrid-bridge/internal/expr"
)

// rawHelper is one entry of a descriptor's ordered helpers list. Helpers are
// compiled in file order so a later helper's body may call an earlier one,
// but never itself or a helper defined after it.
type rawHelper struct {
	Name   string   `yaml:"name"`
	Params []string `yaml:"params"`
	Body   string   `yaml:"body"`
}

type rawResponseEntry struct {
	Value   int    `yaml:"value"`
	Action  string `yaml:"action"` // "next", "abort", or "delay"
	DelayMs int    `yaml:"delayMs"`
}

type rawAckConfig struct {
	TimeoutMs          int                `yaml:"timeoutMs"`
	StatusBytePosition *int               `yaml:"statusBytePosition"` // nil => auto-detect from the response template
	ResponseTable      []rawResponseEntry `yaml:"responseTable"`
}

type rawDescriptor struct {
	DeviceName            string  `yaml:"DeviceName"`
	MIDIDeviceName        string  `yaml:"MIDIDeviceName"`
	OutputDeviceName      string  `yaml:"OutputMIDIDeviceName"`
	VirtualMIDIDeviceName string  `yaml:"virtualMIDIDeviceName"`
	IsMPE                 bool    `yaml:"isMPE"`
	HasGlobalPitchBend    bool    `yaml:"hasGlobalPitchBend"`

	NumRows      int   `yaml:"NumRows"`
	FirstRowIdx  int   `yaml:"FirstRowIdx"`
	RowLengths   []int `yaml:"RowLengths"`
	RowOffsets   []int `yaml:"RowOffsets"`

	HorizonToRowAngle float64 `yaml:"HorizonToRowAngle"`
	RowToColAngle     float64 `yaml:"RowToColAngle"`
	XSpacing          float64 `yaml:"xSpacing"`
	YSpacing          float64 `yaml:"ySpacing"`

	DefaultIsoRootCoordinate []int `yaml:"defaultIsoRootCoordinate"`

	NoteToCoordX string `yaml:"noteToCoordX"`
	NoteToCoordY string `yaml:"noteToCoordY"`
	NoteAssign   string `yaml:"noteAssign"`
	ChannelAssign string `yaml:"channelAssign"`

	Helpers []rawHelper `yaml:"helpers"`

	MessageDelayMs float64 `yaml:"messageDelayMs"`

	SetPadNoteAndChannel string `yaml:"SetPadNoteAndChannel"`
	SetPadColor          string `yaml:"SetPadColor"`
	SetPadNotesBulk      string `yaml:"SetPadNotesBulk"`
	SetPadColorsBulk     string `yaml:"SetPadColorsBulk"`

	SetPadNoteAndChannelResponse string `yaml:"SetPadNoteAndChannelResponse"`
	SetPadColorResponse          string `yaml:"SetPadColorResponse"`
	SetPadNotesBulkResponse      string `yaml:"SetPadNotesBulkResponse"`
	SetPadColorsBulkResponse     string `yaml:"SetPadColorsBulkResponse"`

	Ack *rawAckConfig `yaml:"ack"`

	Colors map[string]string `yaml:"colors"`
}

// defaultAckStatusPosition is used when a descriptor configures an ACK
// protocol but specifies neither an explicit statusBytePosition nor a
// response template to auto-detect it from.
const defaultAckStatusPosition = 5

// Load reads and compiles one descriptor YAML file.
func Load(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.KindDescriptorInvalid, "read descriptor file "+path, err)
	}

	var raw rawDescriptor
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.KindDescriptorInvalid, "parse descriptor YAML "+path, err)
	}

	if raw.DeviceName == "" {
		return nil, bridgeerr.New(bridgeerr.KindDescriptorInvalid, "descriptor "+path+" is missing DeviceName")
	}

	d := &Descriptor{
		DeviceName:            raw.DeviceName,
		SourcePath:            path,
		InputPortSubstring:    portSubstring(raw.MIDIDeviceName),
		OutputPortSubstring:   portSubstring(firstNonEmpty(raw.OutputDeviceName, raw.MIDIDeviceName)),
		VirtualMIDIDeviceName: raw.VirtualMIDIDeviceName,
		IsMPE:                 raw.IsMPE,
		HasGlobalPitchBend:    raw.HasGlobalPitchBend,
		MessageDelayMs:        raw.MessageDelayMs,
	}
	if d.VirtualMIDIDeviceName == "" {
		d.VirtualMIDIDeviceName = "PG " + d.DeviceName
	}
	if d.MessageDelayMs <= 0 {
		d.MessageDelayMs = 1.5
	}

	if len(raw.DefaultIsoRootCoordinate) == 2 {
		d.DefaultRootCoordinate = &Coord{X: raw.DefaultIsoRootCoordinate[0], Y: raw.DefaultIsoRootCoordinate[1]}
	}

	d.Pads, err = generatePads(&raw)
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.KindDescriptorInvalid, "generate pad geometry for "+path, err)
	}

	d.helpers, err = compileHelpers(raw.Helpers)
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.KindDescriptorInvalid, "compile helpers for "+path, err)
	}

	if raw.NoteToCoordX != "" {
		if d.noteToCoordX, err = expr.Parse(raw.NoteToCoordX); err != nil {
			return nil, bridgeerr.Wrap(bridgeerr.KindDescriptorInvalid, "compile noteToCoordX for "+path, err)
		}
	}
	if raw.NoteToCoordY != "" {
		if d.noteToCoordY, err = expr.Parse(raw.NoteToCoordY); err != nil {
			return nil, bridgeerr.Wrap(bridgeerr.KindDescriptorInvalid, "compile noteToCoordY for "+path, err)
		}
	}
	if raw.NoteAssign != "" {
		if d.noteAssign, err = expr.Parse(raw.NoteAssign); err != nil {
			return nil, bridgeerr.Wrap(bridgeerr.KindDescriptorInvalid, "compile noteAssign for "+path, err)
		}
	}
	if raw.ChannelAssign != "" {
		if d.channelAssign, err = expr.Parse(raw.ChannelAssign); err != nil {
			return nil, bridgeerr.Wrap(bridgeerr.KindDescriptorInvalid, "compile channelAssign for "+path, err)
		}
	}

	templates, err := compileTemplates(&raw)
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.KindDescriptorInvalid, "compile SysEx templates for "+path, err)
	}
	d.SysexTemplates = templates

	if raw.Ack != nil {
		ack, err := compileAckConfig(raw.Ack, templates)
		if err != nil {
			return nil, bridgeerr.Wrap(bridgeerr.KindDescriptorInvalid, "compile ACK config for "+path, err)
		}
		d.AckConfig = ack
	}

	if len(raw.Colors) > 0 {
		d.Colors = make(map[string]int, len(raw.Colors))
		for name, hexVal := range raw.Colors {
			v, err := parseColorValue(hexVal)
			if err != nil {
				return nil, bridgeerr.Wrap(bridgeerr.KindDescriptorInvalid, "parse color "+name+" in "+path, err)
			}
			d.Colors[name] = v
		}
	}

	return d, nil
}

// LoadAll loads every *.yaml/*.yml file directly inside dir. A single
// malformed file is reported but does not abort loading the rest — per the
// error handling policy a DescriptorInvalid is recoverable and logged, not
// fatal to the run.
func LoadAll(dir string) (map[string]*Descriptor, []error) {
	out := make(map[string]*Descriptor)
	var errs []error

	entries, err := os.ReadDir(dir)
	if err != nil {
		return out, []error{bridgeerr.Wrap(bridgeerr.KindDescriptorInvalid, "read descriptor directory "+dir, err)}
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(dir, name)
		d, err := Load(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out[d.DeviceName] = d
	}
	return out, errs
}

func portSubstring(name string) string {
	if strings.EqualFold(strings.TrimSpace(name), "none") {
		return ""
	}
	return name
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func parseColorValue(s string) (int, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	s = strings.TrimPrefix(s, "0x")
	s = strings.TrimPrefix(s, "0X")
	var v int
	_, err := fmt.Sscanf(s, "%x", &v)
	if err != nil {
		return 0, fmt.Errorf("invalid color value %q: %w", s, err)
	}
	return v, nil
}

// compileHelpers compiles a descriptor's ordered helpers list. Each helper's
// body may reference only identifiers bound to its own parameters and calls
// to helpers already compiled earlier in the list — a self-call, a forward
// reference, or a longer cycle routed through several helpers is rejected
// here, at load time, rather than left to recurse until the Go call stack
// overflows the first time the engine evaluates it on the hot path.
func compileHelpers(raw []rawHelper) (map[string]*expr.Helper, error) {
	helpers := make(map[string]*expr.Helper, len(raw))
	for _, rh := range raw {
		body, err := expr.Parse(rh.Body)
		if err != nil {
			return nil, fmt.Errorf("helper %q: %w", rh.Name, err)
		}
		for _, called := range expr.CalledHelpers(body) {
			if called == rh.Name {
				return nil, fmt.Errorf("helper %q calls itself; recursion is not permitted", rh.Name)
			}
			if _, ok := helpers[called]; !ok {
				return nil, fmt.Errorf("helper %q calls %q, which is not defined earlier in the helpers list (helpers must be topologically ordered)", rh.Name, called)
			}
		}
		helpers[rh.Name] = &expr.Helper{Name: rh.Name, Params: rh.Params, Body: body}
	}
	return helpers, nil
}

func compileTemplates(raw *rawDescriptor) (*SysexTemplates, error) {
	t := &SysexTemplates{}
	var err error
	parseIf := func(src string, dst **Template) error {
		if src == "" {
			return nil
		}
		tmpl, err := ParseTemplate(src)
		if err != nil {
			return err
		}
		*dst = tmpl
		return nil
	}
	if err = parseIf(raw.SetPadNoteAndChannel, &t.SetPadNoteAndChannel); err != nil {
		return nil, err
	}
	if err = parseIf(raw.SetPadColor, &t.SetPadColor); err != nil {
		return nil, err
	}
	if err = parseIf(raw.SetPadNotesBulk, &t.SetPadNotesBulk); err != nil {
		return nil, err
	}
	if err = parseIf(raw.SetPadColorsBulk, &t.SetPadColorsBulk); err != nil {
		return nil, err
	}
	if err = parseIf(raw.SetPadNoteAndChannelResponse, &t.SetPadNoteAndChannelResponse); err != nil {
		return nil, err
	}
	if err = parseIf(raw.SetPadColorResponse, &t.SetPadColorResponse); err != nil {
		return nil, err
	}
	if err = parseIf(raw.SetPadNotesBulkResponse, &t.SetPadNotesBulkResponse); err != nil {
		return nil, err
	}
	if err = parseIf(raw.SetPadColorsBulkResponse, &t.SetPadColorsBulkResponse); err != nil {
		return nil, err
	}
	return t, nil
}

// compileAckConfig resolves the status byte position in precedence order:
// an explicit statusBytePosition always wins; otherwise it is auto-detected
// from whichever response template carries a STATUS marker; failing both,
// it falls back to defaultAckStatusPosition.
func compileAckConfig(raw *rawAckConfig, templates *SysexTemplates) (*AckConfig, error) {
	ack := &AckConfig{
		TimeoutMs:     raw.TimeoutMs,
		ResponseTable: make(map[int]ResponseAction, len(raw.ResponseTable)),
	}
	if ack.TimeoutMs <= 0 {
		ack.TimeoutMs = 2000
	}

	switch {
	case raw.StatusBytePosition != nil:
		ack.StatusBytePosition = *raw.StatusBytePosition
	default:
		pos, ok := autoDetectStatusPosition(templates)
		if ok {
			ack.StatusBytePosition = pos
		} else {
			ack.StatusBytePosition = defaultAckStatusPosition
		}
	}

	for _, entry := range raw.ResponseTable {
		action, err := parseResponseAction(entry)
		if err != nil {
			return nil, err
		}
		ack.ResponseTable[entry.Value] = action
	}

	return ack, nil
}

func autoDetectStatusPosition(t *SysexTemplates) (int, bool) {
	candidates := []*Template{
		t.SetPadNoteAndChannelResponse,
		t.SetPadColorResponse,
		t.SetPadNotesBulkResponse,
		t.SetPadColorsBulkResponse,
	}
	for _, c := range candidates {
		if c == nil {
			continue
		}
		if pos, ok := c.StatusBytePosition(); ok {
			return pos, true
		}
	}
	return 0, false
}

func parseResponseAction(entry rawResponseEntry) (ResponseAction, error) {
	switch strings.ToLower(strings.TrimSpace(entry.Action)) {
	case "next":
		return ResponseAction{Kind: ActionNext}, nil
	case "abort":
		return ResponseAction{Kind: ActionAbort}, nil
	case "delay":
		if entry.DelayMs <= 0 {
			return ResponseAction{}, fmt.Errorf("response value %d: action \"delay\" requires a positive delayMs", entry.Value)
		}
		return ResponseAction{Kind: ActionDelay, DelayMs: entry.DelayMs}, nil
	default:
		return ResponseAction{}, fmt.Errorf("response value %d: unrecognized action %q", entry.Value, entry.Action)
	}
}

// generatePads reproduces the grid-geometry-to-pad-coordinate algorithm: a
// running row offset accumulated from FirstRowIdx up to row 0, then forward
// through NumRows, projected to a physical plane via the row/column angles.
func generatePads(raw *rawDescriptor) ([]Pad, error) {
	if raw.NumRows <= 0 {
		return nil, fmt.Errorf("NumRows must be positive")
	}
	if len(raw.RowLengths) != raw.NumRows {
		return nil, fmt.Errorf("RowLengths has %d entries, want %d (NumRows)", len(raw.RowLengths), raw.NumRows)
	}
	if len(raw.RowOffsets) != raw.NumRows-1 && len(raw.RowOffsets) != raw.NumRows {
		return nil, fmt.Errorf("RowOffsets has %d entries, want %d or %d", len(raw.RowOffsets), raw.NumRows-1, raw.NumRows)
	}

	xAngle := raw.HorizonToRowAngle * math.Pi / 180
	yAngle := (raw.RowToColAngle + raw.HorizonToRowAngle) * math.Pi / 180

	cumulativeOffset := 0
	for i := raw.FirstRowIdx; i < 0; i++ {
		idx := i - raw.FirstRowIdx
		if idx < len(raw.RowOffsets) {
			cumulativeOffset -= raw.RowOffsets[idx]
		}
	}

	var pads []Pad
	for rowIdx := 0; rowIdx < raw.NumRows; rowIdx++ {
		row := raw.FirstRowIdx + rowIdx
		rowLength := raw.RowLengths[rowIdx]

		if rowIdx > 0 {
			cumulativeOffset += raw.RowOffsets[rowIdx-1]
		}

		for col := 0; col < rowLength; col++ {
			lx := cumulativeOffset + col
			ly := row

			physX := float64(lx)*raw.XSpacing*math.Cos(xAngle) + float64(ly)*raw.YSpacing*math.Cos(yAngle)
			physY := float64(lx)*raw.XSpacing*math.Sin(xAngle) + float64(ly)*raw.YSpacing*math.Sin(yAngle)

			pads = append(pads, Pad{LX: lx, LY: ly, PhysX: physX, PhysY: -physY})
		}
	}
	return pads, nil
}
