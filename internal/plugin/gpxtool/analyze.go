package gpxtool

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"convertd/internal/plugin"
)

// AnalyzeToolName is the registry name of the track analysis tool.
const AnalyzeToolName = "gpx-analyze"

// AnalyzeTool writes a JSON Report for the uploaded track. It is cheap enough
// to run inline on the request path.
type AnalyzeTool struct{}

func (AnalyzeTool) Descriptor() plugin.Descriptor {
	return plugin.Descriptor{
		Name:            AnalyzeToolName,
		Label:           "GPX track analysis",
		Category:        "gpx",
		InputExtensions: []string{"gpx"},
		MaxInputBytes:   maxGPXBytes,
		OutputExtension: "json",
		Inline:          true,
	}
}

func (AnalyzeTool) Validate(in plugin.Input, _ plugin.Params) error {
	if in.Size > maxGPXBytes {
		return plugin.Invalid("too_large", "GPX files are limited to 25 MiB")
	}
	return sniff(in)
}

func (AnalyzeTool) Process(_ context.Context, ws *plugin.Workspace, src io.Reader, _ plugin.Params) (plugin.Output, error) {
	doc, err := parse(src, maxGPXBytes)
	if err != nil {
		return plugin.Output{}, err
	}
	segs := segments(doc)
	if countPoints(segs) == 0 {
		return plugin.Output{}, plugin.Failed("empty_track", "GPX file contains no track points")
	}

	data, err := json.MarshalIndent(Analyze(segs), "", "  ")
	if err != nil {
		return plugin.Output{}, err
	}
	path := ws.Path("analysis.json")
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return plugin.Output{}, err
	}
	ws.Track(path)
	return plugin.Output{Path: path}, nil
}

func (AnalyzeTool) Cleanup(handles []string) {
	removeAll(handles)
}
