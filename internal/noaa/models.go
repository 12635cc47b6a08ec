package noaa

import "time"

// Station is one entry of the weather.gov station roster
type Station struct {
	ID        string   `json:"id"`
	ShortID   string   `json:"shortId"`
	Name      string   `json:"name"`
	TimeZone  string   `json:"timeZone"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// Measurement is a nullable reading with its unit and QC flag. A missing
// value encodes as null, never as zero.
type Measurement struct {
	Value          *float64 `json:"value"`
	UnitCode       *string  `json:"unitCode"`
	QualityControl *string  `json:"qualityControl"`
}

// CloudLayer is the lowest reported cloud layer
type CloudLayer struct {
	Base   Measurement `json:"base"`
	Amount *string     `json:"amount"`
}

// Observation is a single station reading. Observations are published to the
// bus as-is, so the JSON tags are the wire format of a batch.
type Observation struct {
	StationID                 string      `json:"stationId"`
	Timestamp                 time.Time   `json:"timestamp"`
	RawMessage                string      `json:"rawMessage"`
	TextDescription           string      `json:"textDescription"`
	Temperature               Measurement `json:"temperature"`
	Dewpoint                  Measurement `json:"dewpoint"`
	WindDirection             Measurement `json:"windDirection"`
	WindSpeed                 Measurement `json:"windSpeed"`
	WindGust                  Measurement `json:"windGust"`
	BarometricPressure        Measurement `json:"barometricPressure"`
	SeaLevelPressure          Measurement `json:"seaLevelPressure"`
	Visibility                Measurement `json:"visibility"`
	MaxTemperatureLast24Hours Measurement `json:"maxTemperatureLast24Hours"`
	MinTemperatureLast24Hours Measurement `json:"minTemperatureLast24Hours"`
	PrecipitationLastHour     Measurement `json:"precipitationLastHour"`
	PrecipitationLast3Hours   Measurement `json:"precipitationLast3Hours"`
	PrecipitationLast6Hours   Measurement `json:"precipitationLast6Hours"`
	RelativeHumidity          Measurement `json:"relativeHumidity"`
	WindChill                 Measurement `json:"windChill"`
	HeatIndex                 Measurement `json:"heatIndex"`
	CloudLayer0               *CloudLayer `json:"cloudLayer0"`
}

// GeoJSON response shapes

type stationsResponse struct {
	Features []stationFeature `json:"features"`
}

type stationFeature struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Geometry *struct {
		Type        string    `json:"type"`
		Coordinates []float64 `json:"coordinates"`
	} `json:"geometry"`
	Properties *struct {
		Type              string `json:"@type"`
		StationIdentifier string `json:"stationIdentifier"`
		Name              string `json:"name"`
		TimeZone          string `json:"timeZone"`
	} `json:"properties"`
}

type observationsResponse struct {
	Features []observationFeature `json:"features"`
}

type observationFeature struct {
	Type       string                 `json:"type"`
	Properties *observationProperties `json:"properties"`
}

type observationProperties struct {
	Type                      string       `json:"@type"`
	Station                   string       `json:"station"`
	Timestamp                 string       `json:"timestamp"`
	RawMessage                string       `json:"rawMessage"`
	TextDescription           string       `json:"textDescription"`
	Temperature               Measurement  `json:"temperature"`
	Dewpoint                  Measurement  `json:"dewpoint"`
	WindDirection             Measurement  `json:"windDirection"`
	WindSpeed                 Measurement  `json:"windSpeed"`
	WindGust                  Measurement  `json:"windGust"`
	BarometricPressure        Measurement  `json:"barometricPressure"`
	SeaLevelPressure          Measurement  `json:"seaLevelPressure"`
	Visibility                Measurement  `json:"visibility"`
	MaxTemperatureLast24Hours Measurement  `json:"maxTemperatureLast24Hours"`
	MinTemperatureLast24Hours Measurement  `json:"minTemperatureLast24Hours"`
	PrecipitationLastHour     Measurement  `json:"precipitationLastHour"`
	PrecipitationLast3Hours   Measurement  `json:"precipitationLast3Hours"`
	PrecipitationLast6Hours   Measurement  `json:"precipitationLast6Hours"`
	RelativeHumidity          Measurement  `json:"relativeHumidity"`
	WindChill                 Measurement  `json:"windChill"`
	HeatIndex                 Measurement  `json:"heatIndex"`
	CloudLayers               []CloudLayer `json:"cloudLayers"`
}
