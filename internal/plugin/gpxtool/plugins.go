package gpxtool

import "convertd/internal/plugin"

// Plugins returns every GPX tool.
func Plugins() []plugin.Contract {
	return []plugin.Contract{SpeedTool{}, AnalyzeTool{}}
}
