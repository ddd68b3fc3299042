package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
)

// Tool is a declared, side-effect-free function the completion provider may
// invoke mid-generation. The controller never sees tool traffic; it is
// resolved inside the provider.
type Tool struct {
	Name        string
	Description string
	Schema      json.RawMessage
	Execute     func(ctx context.Context, args json.RawMessage) (any, error)
}

type weatherArgs struct {
	Location string `json:"location"`
}

type weatherReport struct {
	Location    string `json:"location"`
	Temperature int    `json:"temperature"`
}

// WeatherTool reports a mock temperature for a location. It exists so the
// model can exercise the tool-call path without any external dependency.
func WeatherTool() Tool {
	return Tool{
		Name:        "weather",
		Description: "Get the weather in a location",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"location": {
					"type": "string",
					"description": "The location to get the weather for"
				}
			},
			"required": ["location"]
		}`),
		Execute: func(ctx context.Context, args json.RawMessage) (any, error) {
			_ = ctx

			var parsed weatherArgs
			if err := json.Unmarshal(args, &parsed); err != nil {
				return nil, fmt.Errorf("weather: decode arguments: %w", err)
			}
			if strings.TrimSpace(parsed.Location) == "" {
				return nil, fmt.Errorf("weather: location is required")
			}

			return weatherReport{
				Location:    parsed.Location,
				Temperature: 72 + rand.Intn(21) - 10,
			}, nil
		},
	}
}
