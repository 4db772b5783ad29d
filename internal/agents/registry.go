package agents

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/corpus/internal/interfaces"
)

// Deps are the services agents draw on. Not every agent uses every
// dependency.
type Deps struct {
	LLM       interfaces.LLMService
	Search    interfaces.SearchSink
	Documents interfaces.DocumentStorage
	Jobs      interfaces.JobStorage
}

// Build instantiates agents from descriptors, preserving descriptor order
// for routing tie-breaks. It returns the agent list and the fallback agent.
// When no descriptor is marked fallback, the first llm-kind agent serves.
func Build(descriptors []Descriptor, deps Deps, logger arbor.ILogger) ([]interfaces.Agent, interfaces.Agent, error) {
	if len(descriptors) == 0 {
		descriptors = DefaultDescriptors()
	}

	built := make([]interfaces.Agent, 0, len(descriptors))
	var fallback interfaces.Agent
	var firstLLM interfaces.Agent

	for _, d := range descriptors {
		var agent interfaces.Agent
		switch d.Kind {
		case "llm":
			agent = NewLLMAgent(d, deps.LLM, logger)
			if firstLLM == nil {
				firstLLM = agent
			}
		case "code":
			agent = NewCodeAgent(d, deps.LLM, logger)
		case "search":
			agent = NewSearchAgent(d, deps.Search, logger)
		case "documents":
			agent = NewDocumentsAgent(d, deps.Documents, deps.Jobs, logger)
		default:
			return nil, nil, fmt.Errorf("unknown agent kind %q", d.Kind)
		}

		built = append(built, agent)
		if d.Fallback && fallback == nil {
			fallback = agent
		}
		logger.Debug().Str("agent", d.Name).Str("kind", d.Kind).Msg("Agent registered")
	}

	if fallback == nil {
		fallback = firstLLM
	}
	if fallback == nil {
		return nil, nil, fmt.Errorf("no fallback agent available")
	}
	return built, fallback, nil
}
