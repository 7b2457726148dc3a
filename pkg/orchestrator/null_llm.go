package orchestrator

// NullLLMServer is a no-op LLMServer for composition roots that wire no LLM
// server manager; Orchestrate never offloads against it since IsRunning
// always reports false (spec §9 "singletons" — explicit
// dependency injection means a harmless default must be an explicit value,
// not an implicit absence).
type NullLLMServer struct{}

func (NullLLMServer) IsRunning() bool         { return false }
func (NullLLMServer) GetConfig() LLMConfig    { return LLMConfig{} }
func (NullLLMServer) Start(LLMConfig) error   { return nil }
func (NullLLMServer) Stop() error             { return nil }
