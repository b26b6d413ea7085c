package tools

import "context"

// WeatherReport is the payload returned by the weather tool.
type WeatherReport struct {
	City        string `json:"city"`
	Weather     string `json:"weather"`
	Temperature string `json:"temperature"`
}

// LookupWeather returns a canned forecast for a city. The tool exists to
// exercise the action pipeline, not to be a real weather source.
func LookupWeather(city string) WeatherReport {
	return WeatherReport{
		City:        city,
		Weather:     "Sunny",
		Temperature: "25°C",
	}
}

// WeatherDefinition builds the getWeather tool definition.
func WeatherDefinition() Definition {
	return Definition{
		Name:        "getWeather",
		Description: "Returns the current weather for a city",
		Parameters: []Parameter{
			{
				Name:        "city",
				Type:        "string",
				Description: "City to fetch the weather for",
				Required:    true,
			},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			city, _ := params["city"].(string)
			return LookupWeather(city), nil
		},
	}
}
