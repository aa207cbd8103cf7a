package engine

import (
	"context"
	"encoding/json"
	"os"
	"time"
)

// controlState is the on-disk pause flag shared between the running loop
// and one-shot control invocations.
type controlState struct {
	Reason   string    `json:"reason"`
	Actor    string    `json:"actor"`
	PausedAt time.Time `json:"paused_at"`
}

// SetControlFile enables cross-process pause control. Pausing writes the
// flag file, resuming removes it, and the running loop adopts whatever
// the file says at the start of each cycle.
func (e *Engine) SetControlFile(path string) {
	e.mu.Lock()
	e.controlPath = path
	e.mu.Unlock()
}

func (e *Engine) writeControlFile(reason, actor string) {
	e.mu.Lock()
	path := e.controlPath
	e.mu.Unlock()
	if path == "" {
		return
	}

	data, err := json.Marshal(controlState{
		Reason:   reason,
		Actor:    actor,
		PausedAt: time.Now(),
	})
	if err != nil {
		return
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		e.logger.Error().Err(err).Str("path", path).Msg("Writing control file failed")
	}
}

func (e *Engine) removeControlFile() {
	e.mu.Lock()
	path := e.controlPath
	e.mu.Unlock()
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		e.logger.Error().Err(err).Str("path", path).Msg("Removing control file failed")
	}
}

// syncControl reconciles the in-memory pause flag with the control file.
// The file is authoritative: it is written on every pause and removed on
// every resume, whichever process performed them.
func (e *Engine) syncControl(ctx context.Context) {
	e.mu.Lock()
	path := e.controlPath
	paused := e.paused
	e.mu.Unlock()
	if path == "" {
		return
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if paused {
			e.mu.Lock()
			e.paused = false
			e.pauseReason = ""
			e.mu.Unlock()
			if e.metrics != nil {
				e.metrics.EnginePaused.Set(0)
			}
			e.logger.Info().Msg("Pause lifted externally")
		}
		return
	}
	if err != nil {
		e.logger.Error().Err(err).Str("path", path).Msg("Reading control file failed")
		return
	}

	var state controlState
	if err := json.Unmarshal(data, &state); err != nil {
		e.logger.Error().Err(err).Str("path", path).Msg("Parsing control file failed")
		return
	}

	if !paused {
		e.mu.Lock()
		e.paused = true
		e.pauseReason = state.Reason
		e.mu.Unlock()
		if e.metrics != nil {
			e.metrics.EnginePaused.Set(1)
		}
		e.logger.Warn().
			Str("reason", state.Reason).
			Str("actor", state.Actor).
			Msg("Pause adopted externally")
	}
}
