package battle

// BattleStateChangedEvent is raised when a state becomes current, before its
// Enter runs.
type BattleStateChangedEvent struct {
	BattleID string
	State    string
	Turn     int
}

// BattleEndedEvent is raised once per battle when it ends, either explicitly
// or through a forced reset by StartBattle.
type BattleEndedEvent struct {
	BattleID string
	IsWin    bool
	Turns    int
}
