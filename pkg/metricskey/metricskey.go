package metricskey

import "github.com/effective-security/metrics"

// Stats
var (
	// StatsLLMInputTokens is base for counter metric for total input tokens sent to LLM
	StatsLLMInputTokens = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_llm_input_tokens",
		Help:         "stats_llm_input_tokens provides total input tokens sent to LLM",
		RequiredTags: []string{"model"},
	}

	StatsLLMOutputTokens = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_llm_output_tokens",
		Help:         "stats_llm_output_tokens provides total output tokens received from LLM",
		RequiredTags: []string{"model"},
	}

	StatsLLMTotalTokens = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_llm_total_tokens",
		Help:         "stats_llm_total_tokens provides total tokens sent and received from LLM",
		RequiredTags: []string{"model"},
	}

	StatsModelCallsSucceeded = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_model_calls_succeeded",
		Help:         "stats_model_calls_succeeded provides total model calls succeeded",
		RequiredTags: []string{"model"},
	}

	StatsModelCallsFailed = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_model_calls_failed",
		Help:         "stats_model_calls_failed provides total model calls failed",
		RequiredTags: []string{"model"},
	}

	StatsTurnsSucceeded = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_turns_succeeded",
		Help:         "stats_turns_succeeded provides total chat turns completed",
		RequiredTags: []string{"model"},
	}

	StatsTurnsFailed = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_turns_failed",
		Help:         "stats_turns_failed provides total chat turns failed",
		RequiredTags: []string{"model"},
	}

	StatsToolCallsSucceeded = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_tool_calls_succeeded",
		Help:         "stats_tool_calls_succeeded provides total tool calls succeeded",
		RequiredTags: []string{"tool"},
	}

	StatsToolCallsFailed = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_tool_calls_failed",
		Help:         "stats_tool_calls_failed provides total tool calls failed",
		RequiredTags: []string{"tool"},
	}

	StatsToolCallsNotFound = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_tool_calls_not_found",
		Help:         "stats_tool_calls_not_found provides total tool calls not found",
		RequiredTags: []string{"tool"},
	}

	StatsHostCallsSucceeded = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_host_calls_succeeded",
		Help:         "stats_host_calls_succeeded provides total tool invocations served by the host",
		RequiredTags: []string{"host", "tool"},
	}

	StatsHostCallsFailed = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_host_calls_failed",
		Help:         "stats_host_calls_failed provides total tool invocations failed on the host",
		RequiredTags: []string{"host", "tool"},
	}

	StatsDiscoveryFailures = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_discovery_failures",
		Help:         "stats_discovery_failures provides total tool servers that could not be reached",
		RequiredTags: []string{"server"},
	}

	StatsCheckpointConflicts = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_checkpoint_conflicts",
		Help:         "stats_checkpoint_conflicts provides total checkpoint writes rejected by version check",
		RequiredTags: []string{"backend"},
	}
)

// Perf
var (
	PerfTurn = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_turn",
		Help:         "perf_turn provides duration of chat turn",
		RequiredTags: []string{"model"},
	}

	PerfModelCall = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_model_call",
		Help:         "perf_model_call provides duration of model call",
		RequiredTags: []string{"model"},
	}

	PerfToolCall = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_tool_call",
		Help:         "perf_tool_call provides duration of tool call",
		RequiredTags: []string{"tool"},
	}

	PerfCheckpointWrite = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_checkpoint_write",
		Help:         "perf_checkpoint_write provides duration of checkpoint write",
		RequiredTags: []string{"backend"},
	}
)

// Metrics returns slice of metrics from this repo
// keep sorted by name
var Metrics = []*metrics.Describe{
	&PerfCheckpointWrite,
	&PerfModelCall,
	&PerfToolCall,
	&PerfTurn,
	&StatsCheckpointConflicts,
	&StatsDiscoveryFailures,
	&StatsHostCallsFailed,
	&StatsHostCallsSucceeded,
	&StatsLLMInputTokens,
	&StatsLLMOutputTokens,
	&StatsLLMTotalTokens,
	&StatsModelCallsFailed,
	&StatsModelCallsSucceeded,
	&StatsToolCallsFailed,
	&StatsToolCallsNotFound,
	&StatsToolCallsSucceeded,
	&StatsTurnsFailed,
	&StatsTurnsSucceeded,
}
