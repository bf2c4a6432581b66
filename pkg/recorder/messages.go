package recorder

// RecordMsg carries one complete record, e.g. a text line, to be stored.
type RecordMsg struct {
	Data []byte
}

// MessageName implements framework.Message.
func (m *RecordMsg) MessageName() string { return "record" }

// SupplyMsg carries a supply voltage sample for auto-terminate.
type SupplyMsg struct {
	Value uint16
}

// MessageName implements framework.Message.
func (m *SupplyMsg) MessageName() string { return "supply" }

// Command is a remote request to the Recorder.
type Command int

// Commands
const (
	CmdClose  Command = iota // close the file, keep the card mounted
	CmdRotate                // close the file and start the next one
)

var commandNames = [...]string{
	CmdClose:  "close",
	CmdRotate: "rotate",
}

// String implements fmt.Stringer.
func (c Command) String() string {
	if c >= 0 && int(c) < len(commandNames) {
		return commandNames[c]
	}
	return "unknown"
}

// ParseCommand looks up a command by name.
func ParseCommand(name string) (Command, bool) {
	for c, n := range commandNames {
		if n == name {
			return Command(c), true
		}
	}
	return 0, false
}

// CommandMsg carries a Command.
type CommandMsg struct {
	Command Command
}

// MessageName implements framework.Message.
func (m *CommandMsg) MessageName() string { return "command " + m.Command.String() }
