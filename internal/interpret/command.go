package interpret

import (
	"strings"
)

// CommandName is a voice assistant intent.
type CommandName string

const (
	CmdConfirmTrade   CommandName = "CONFIRM_TRADE"
	CmdCancelSignal   CommandName = "CANCEL_SIGNAL"
	CmdClosePosition  CommandName = "CLOSE_POSITION"
	CmdShowTrades     CommandName = "SHOW_TRADES"
	CmdShowPnL        CommandName = "SHOW_PNL"
	CmdPauseTrading   CommandName = "PAUSE_TRADING"
	CmdToggleAssisted CommandName = "TOGGLE_ASSISTED"
	CmdUnknown        CommandName = "UNKNOWN"
)

var knownCommands = map[CommandName]bool{
	CmdConfirmTrade:   true,
	CmdCancelSignal:   true,
	CmdClosePosition:  true,
	CmdShowTrades:     true,
	CmdShowPnL:        true,
	CmdPauseTrading:   true,
	CmdToggleAssisted: true,
}

// Command is an interpreted voice instruction. TargetID optionally names a
// signal id or a pair fragment such as "BTC".
type Command struct {
	Name     CommandName `json:"command"`
	TargetID string      `json:"target_id,omitempty"`
}

type rawCommand struct {
	Command  string `json:"command"`
	Intent   string `json:"intent"`
	TargetID string `json:"targetId"`
	Target   string `json:"target"`
}

// DecodeCommand repairs and decodes model output into a Command. Anything
// that does not name a known command decodes to UNKNOWN.
func DecodeCommand(output string) Command {
	var raw rawCommand
	if err := json.UnmarshalFromString(Repair(output), &raw); err != nil {
		return Command{Name: CmdUnknown}
	}
	name := CommandName(strings.ToUpper(strings.TrimSpace(first(raw.Command, raw.Intent))))
	if !knownCommands[name] {
		return Command{Name: CmdUnknown}
	}
	return Command{Name: name, TargetID: strings.TrimSpace(first(raw.TargetID, raw.Target))}
}
