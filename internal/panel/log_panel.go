package panel

import "go.uber.org/zap"

// LogPanel is a headless panel that reports visibility changes to a logger.
type LogPanel struct {
	Key     string
	logger  *zap.Logger
	visible bool
}

// NewLogPanel creates a headless panel named key.
func NewLogPanel(key string, logger *zap.Logger) *LogPanel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogPanel{Key: key, logger: logger}
}

// Show implements Panel.
func (p *LogPanel) Show() {
	p.visible = true
	p.logger.Info("panel shown", zap.String("panel", p.Key))
}

// Hide implements Panel.
func (p *LogPanel) Hide() {
	p.visible = false
	p.logger.Debug("panel hidden", zap.String("panel", p.Key))
}

// Visible reports whether the panel is currently shown.
func (p *LogPanel) Visible() bool {
	return p.visible
}

// LogPanels builds one LogPanel per key, ready for NewManager.
func LogPanels(logger *zap.Logger, keys ...string) map[string]Panel {
	out := make(map[string]Panel, len(keys))
	for _, key := range keys {
		out[key] = NewLogPanel(key, logger)
	}
	return out
}
