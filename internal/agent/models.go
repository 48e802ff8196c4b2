package agent

// taskModelMap picks the preferred model per task type. Planning,
// implementation, and review carry the most context and get the larger
// model; mechanical tasks run on the faster one.
var taskModelMap = map[string]string{
	"plan":     "opus",
	"build":    "opus",
	"review":   "opus",
	"test":     "sonnet",
	"document": "sonnet",
	"classify": "sonnet",
	"branch":   "sonnet",
	"commit":   "sonnet",
}

// ModelForTask returns the preferred model for a task type, falling
// back to the given default for unmapped types.
func ModelForTask(taskType, fallback string) string {
	if model, ok := taskModelMap[taskType]; ok {
		return model
	}
	return fallback
}
