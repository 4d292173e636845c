package advisory

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/sells-group/calibration-cli/internal/model"
)

const responseSchemaURL = "calibration://advisory/response.schema.json"

const responseSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "verdict": {
      "oneOf": [
        {"type": "null"},
        {"enum": ["PASS", "CONDITIONAL", "FAIL"]}
      ]
    },
    "score": {"type": ["integer", "null"]},
    "confidence": {"type": "number"},
    "narrative": {"type": "string"}
  },
  "required": ["confidence"],
  "anyOf": [
    {"required": ["verdict"]},
    {"required": ["score"]},
    {"required": ["narrative"]}
  ]
}`

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(responseSchemaURL, strings.NewReader(responseSchema)); err != nil {
		return nil, eris.Wrap(err, "advisory: add response schema")
	}
	schema, err := compiler.Compile(responseSchemaURL)
	if err != nil {
		return nil, eris.Wrap(err, "advisory: compile response schema")
	}
	return schema, nil
})

// DecodeResponse extracts, validates and decodes an advisory reply. Model
// replies wrapped in prose or code fences are accepted as long as they carry
// one JSON object.
func DecodeResponse(raw []byte) (*Response, error) {
	body := extractObject(raw)
	if len(body) == 0 {
		return nil, eris.New("advisory: reply contains no JSON object")
	}

	var doc any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, eris.Wrap(err, "advisory: parse reply")
	}

	schema, err := compiledSchema()
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(doc); err != nil {
		return nil, eris.Wrap(err, "advisory: reply failed schema validation")
	}

	var w wireResponse
	dec = json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&w); err != nil {
		return nil, eris.Wrap(err, "advisory: decode reply")
	}

	resp := &Response{Verdict: w.Verdict, Confidence: w.Confidence, Narrative: w.Narrative}
	if w.Score != nil {
		score, err := integralScore(*w.Score)
		if err != nil {
			return nil, err
		}
		resp.Score = &score
	}
	return resp, nil
}

// wireResponse keeps the score as a number literal so integral values
// written as 95.0 decode the same as 95.
type wireResponse struct {
	Verdict    *model.Verdict `json:"verdict"`
	Score      *json.Number   `json:"score"`
	Confidence float64        `json:"confidence"`
	Narrative  string         `json:"narrative"`
}

func integralScore(n json.Number) (int, error) {
	if i, err := n.Int64(); err == nil {
		return int(i), nil
	}
	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0, eris.Errorf("advisory: score %s is not an integer", n.String())
	}
	return int(f), nil
}

func extractObject(raw []byte) []byte {
	start := bytes.IndexByte(raw, '{')
	end := bytes.LastIndexByte(raw, '}')
	if start < 0 || end < start {
		return nil
	}
	return raw[start : end+1]
}
