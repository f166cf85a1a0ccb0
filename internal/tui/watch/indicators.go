package watch

import (
	"strings"
	"time"
)

// Pulse lights up on every webhook event and fades over ten seconds.
type Pulse struct {
	level int
	last  time.Time
}

const pulseWidth = 5

func (p *Pulse) Hit(now time.Time) {
	p.level = pulseWidth
	p.last = now
}

// Decay drops one dot for every two seconds since the last hit.
func (p *Pulse) Decay(now time.Time) {
	if p.level == 0 {
		return
	}
	lvl := pulseWidth - int(now.Sub(p.last)/(2*time.Second))
	if lvl < 0 {
		lvl = 0
	}
	p.level = lvl
}

func (p Pulse) Last() time.Time { return p.last }

func (p Pulse) Render(theme Theme) string {
	var b strings.Builder
	for i := range pulseWidth {
		if i < p.level {
			b.WriteString(theme.PulseActive.Render("●"))
		} else {
			b.WriteString(theme.PulseInactive.Render("○"))
		}
	}
	return b.String()
}

// Rate counts events over a sliding one-minute window.
type Rate struct {
	window time.Duration
	hits   []time.Time
}

func NewRate() Rate {
	return Rate{window: time.Minute}
}

func (r *Rate) Add(t time.Time) {
	r.hits = append(r.hits, t)
}

// PerMinute trims hits older than the window and returns what is left.
func (r *Rate) PerMinute(now time.Time) int {
	cut := 0
	for cut < len(r.hits) && now.Sub(r.hits[cut]) > r.window {
		cut++
	}
	r.hits = r.hits[cut:]
	return len(r.hits)
}
