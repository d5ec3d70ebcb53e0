package pipeline

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/vodloop/hlsfetch/errors"
	"github.com/xeipuuv/gojsonschema"
)

var jobsFileSchema = gojsonschema.NewStringLoader(`{
	"type": "array",
	"items": {
		"type": "object",
		"properties": {
			"id":           { "type": "string", "minLength": 1 },
			"name":         { "type": "string" },
			"actress":      { "type": "string" },
			"hash_tag":     { "type": "array", "items": { "type": "string" } },
			"hls_url":      { "type": "string", "minLength": 1 },
			"cover_url":    { "type": "string" },
			"src":          { "type": "string" },
			"has_chinese":  { "type": "boolean" },
			"release_date": { "type": "string" },
			"time_length":  { "type": "string" }
		},
		"required": ["id", "hls_url"],
		"additionalProperties": false
	}
}`)

// LoadJobs reads and validates the jobs file. Every entry needs at least an id
// and a playlist URL; anything structurally off fails the whole file so a
// typo'd key can't silently drop a job.
func LoadJobs(path string) ([]*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading jobs file: %w", err)
	}

	result, err := gojsonschema.Validate(jobsFileSchema, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, errors.InvalidInput("validating jobs file %s: %s", path, err)
	}
	if !result.Valid() {
		return nil, errors.InvalidJobSchema(path, result.Errors())
	}

	var jobs []*Job
	if err := json.Unmarshal(data, &jobs); err != nil {
		return nil, errors.InvalidInput("parsing jobs file %s: %s", path, err)
	}
	for _, job := range jobs {
		job.SetStatus(StatusPending)
	}
	return jobs, nil
}
