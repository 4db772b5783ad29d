package chat

import (
	"sort"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/corpus/internal/interfaces"
)

// Router selects which agents answer a message by keyword scoring. Scoring
// is deterministic: a keyword substring match scores 1, a phrase match
// scores 2, ties resolve by registration order. Agents below the threshold
// are dropped; when nothing scores, the fallback agent answers alone.
type Router struct {
	agents      []interfaces.Agent
	fallback    interfaces.Agent
	threshold   float64
	maxParallel int
	logger      arbor.ILogger
}

// NewRouter creates a router over the registered agents. fallback handles
// messages no agent scores on; it may also appear in agents.
func NewRouter(agents []interfaces.Agent, fallback interfaces.Agent, threshold float64, maxParallel int, logger arbor.ILogger) *Router {
	if threshold <= 0 {
		threshold = 1.0
	}
	if maxParallel <= 0 {
		maxParallel = 2
	}
	return &Router{
		agents:      agents,
		fallback:    fallback,
		threshold:   threshold,
		maxParallel: maxParallel,
		logger:      logger,
	}
}

type scoredAgent struct {
	agent interfaces.Agent
	score float64
	order int
}

// Route returns the agents that should answer message, highest score first,
// capped at the parallelism limit.
func (r *Router) Route(message string) []interfaces.Agent {
	lower := strings.ToLower(message)

	scored := make([]scoredAgent, 0, len(r.agents))
	for i, agent := range r.agents {
		score := scoreAgent(agent, lower)
		if score >= r.threshold {
			scored = append(scored, scoredAgent{agent: agent, score: score, order: i})
		}
	}

	if len(scored) == 0 {
		r.logger.Debug().Msg("No agent matched, routing to fallback")
		return []interfaces.Agent{r.fallback}
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return scored[i].order < scored[j].order
	})

	if len(scored) > r.maxParallel {
		scored = scored[:r.maxParallel]
	}

	selected := make([]interfaces.Agent, len(scored))
	names := make([]string, len(scored))
	for i, s := range scored {
		selected[i] = s.agent
		names[i] = s.agent.Name()
	}

	r.logger.Debug().
		Strs("agents", names).
		Float64("top_score", scored[0].score).
		Msg("Agents routed")
	return selected
}

func scoreAgent(agent interfaces.Agent, lowerMessage string) float64 {
	var score float64
	for _, keyword := range agent.Keywords() {
		if keyword == "" {
			continue
		}
		if strings.Contains(lowerMessage, strings.ToLower(keyword)) {
			score++
		}
	}
	for _, phrase := range agent.Phrases() {
		if phrase == "" {
			continue
		}
		if strings.Contains(lowerMessage, strings.ToLower(phrase)) {
			score += 2
		}
	}
	return score
}
