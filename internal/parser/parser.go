package parser

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"fleet-fuel-review/internal/models"
	"fleet-fuel-review/internal/temporal"
)

// Parser handles parsing of telemetry data files
type Parser struct {
	format string
}

// NewParser creates a new parser with the specified format
func NewParser(format string) *Parser {
	return &Parser{format: format}
}

// ParseFile parses a telemetry data file
func (p *Parser) ParseFile(filename string) ([]models.TelemetrySample, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	return p.Parse(file)
}

// Parse parses telemetry data from r in the parser's format
func (p *Parser) Parse(r io.Reader) ([]models.TelemetrySample, error) {
	switch strings.ToLower(p.format) {
	case "csv":
		return p.parseCSV(r)
	case "json":
		return p.parseJSON(r)
	case "log":
		return p.parseLog(r)
	default:
		return nil, fmt.Errorf("unsupported format: %s", p.format)
	}
}

// parseCSV parses CSV formatted telemetry data
func (p *Parser) parseCSV(r io.Reader) ([]models.TelemetrySample, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // Allow variable fields

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	indices := make(map[string]int)
	for i, h := range header {
		indices[strings.ToLower(strings.TrimSpace(h))] = i
	}

	var results []models.TelemetrySample
	lineNum := 1

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return results, fmt.Errorf("error at line %d: %w", lineNum, err)
		}
		lineNum++

		data, err := p.recordToSample(record, indices)
		if err != nil {
			log.Warn().Int("line", lineNum).Err(err).Msg("skipping csv record")
			continue
		}
		results = append(results, data)
	}

	return results, nil
}

// recordToSample converts a CSV record to a TelemetrySample
func (p *Parser) recordToSample(record []string, indices map[string]int) (models.TelemetrySample, error) {
	var t models.TelemetrySample

	getValue := func(keys ...string) string {
		for _, key := range keys {
			if idx, ok := indices[key]; ok && idx < len(record) {
				return strings.TrimSpace(record[idx])
			}
		}
		return ""
	}

	t.Plate = getValue("plate", "license_plate", "vehicle_id")
	if t.Plate == "" {
		return t, fmt.Errorf("missing plate")
	}

	t.Date = getValue("date")
	t.Time = getValue("time")
	if _, ok := temporal.Parse(t.Date, t.Time); !ok {
		return t, fmt.Errorf("invalid date/time %q %q", t.Date, t.Time)
	}

	t.Speed, _ = strconv.ParseFloat(getValue("speed"), 64)
	t.FuelLevel, _ = strconv.ParseFloat(getValue("fuel_level", "fuel"), 64)
	t.Status = getValue("status")
	t.Latitude, _ = strconv.ParseFloat(getValue("latitude", "lat"), 64)
	t.Longitude, _ = strconv.ParseFloat(getValue("longitude", "lon", "lng"), 64)

	return t, nil
}

// parseJSON parses a JSON array or newline-delimited JSON
func (p *Parser) parseJSON(r io.Reader) ([]models.TelemetrySample, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}

	var results []models.TelemetrySample
	if err := json.Unmarshal(data, &results); err == nil {
		return results, nil
	}

	return p.parseJSONLines(bytes.NewReader(data))
}

// parseJSONLines parses newline-delimited JSON
func (p *Parser) parseJSONLines(r io.Reader) ([]models.TelemetrySample, error) {
	var results []models.TelemetrySample
	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line == "[" || line == "]" {
			continue
		}

		line = strings.TrimSuffix(line, ",")

		var t models.TelemetrySample
		if err := json.Unmarshal([]byte(line), &t); err != nil {
			log.Warn().Int("line", lineNum).Err(err).Msg("skipping json line")
			continue
		}
		results = append(results, t)
	}

	return results, scanner.Err()
}

// parseLog parses the tracker log format: plate|date|time|lat,lon|speed|fuel|status
func (p *Parser) parseLog(r io.Reader) ([]models.TelemetrySample, error) {
	var results []models.TelemetrySample
	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Split(line, "|")
		if len(parts) < 6 {
			log.Warn().Int("line", lineNum).Msg("insufficient fields")
			continue
		}

		t := models.TelemetrySample{
			Plate: strings.TrimSpace(parts[0]),
			Date:  strings.TrimSpace(parts[1]),
			Time:  strings.TrimSpace(parts[2]),
		}
		if _, ok := temporal.Parse(t.Date, t.Time); !ok {
			log.Warn().Int("line", lineNum).Msg("invalid date/time")
			continue
		}

		coords := strings.Split(parts[3], ",")
		if len(coords) == 2 {
			t.Latitude, _ = strconv.ParseFloat(strings.TrimSpace(coords[0]), 64)
			t.Longitude, _ = strconv.ParseFloat(strings.TrimSpace(coords[1]), 64)
		}

		t.Speed, _ = strconv.ParseFloat(strings.TrimSpace(parts[4]), 64)
		t.FuelLevel, _ = strconv.ParseFloat(strings.TrimSpace(parts[5]), 64)
		if len(parts) > 6 {
			t.Status = strings.TrimSpace(parts[6])
		}

		results = append(results, t)
	}

	return results, scanner.Err()
}

// ValidateSample validates a telemetry sample
func ValidateSample(t *models.TelemetrySample) []string {
	var errors []string

	if strings.TrimSpace(t.Plate) == "" {
		errors = append(errors, "plate is required")
	}
	if _, ok := temporal.Parse(t.Date, t.Time); !ok {
		errors = append(errors, "date must be DD/MM/YYYY and time HH:MM:SS")
	}
	if t.Latitude < -90 || t.Latitude > 90 {
		errors = append(errors, "latitude must be between -90 and 90")
	}
	if t.Longitude < -180 || t.Longitude > 180 {
		errors = append(errors, "longitude must be between -180 and 180")
	}
	if t.Speed < 0 {
		errors = append(errors, "speed cannot be negative")
	}
	if t.FuelLevel < 0 {
		errors = append(errors, "fuel_level cannot be negative")
	}

	return errors
}
