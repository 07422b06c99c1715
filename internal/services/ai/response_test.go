package ai

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
)

func TestDecodeResponse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		content     string
		wantErr     bool
		wantTags    int
		wantInvalid int
		wantConf    float64
		wantName    string
	}{
		{name: "plain object", content: `{"tags":[{"tagId":1,"weight":0.9,"category":"primary"}],"overallConfidence":0.6}`, wantTags: 1, wantConf: 0.6},
		{name: "default confidence", content: `{"tags":[]}`, wantConf: DefaultOverallConfidence},
		{name: "confidence clamped", content: `{"tags":[],"overallConfidence":4}`, wantConf: 1},
		{name: "quoted confidence", content: `{"tags":[],"overallConfidence":"0.5"}`, wantConf: 0.5},
		{name: "non-object entries counted", content: `{"tags":[1,"x",{"tagId":2,"weight":0.8,"category":"primary"}]}`, wantTags: 1, wantInvalid: 2, wantConf: DefaultOverallConfidence},
		{name: "wrapped in prose", content: "Here you go:\n{\"tags\":[],\"suggestedInterestName\":\" Robotics \"}\nThanks", wantConf: DefaultOverallConfidence, wantName: "Robotics"},
		{name: "missing tags", content: `{"overallConfidence":0.9}`, wantErr: true},
		{name: "tags object", content: `{"tags":{}}`, wantErr: true},
		{name: "top-level array", content: `[{"tagId":1}]`, wantErr: true},
		{name: "not json", content: `nope`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := decodeResponse(tt.content)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidResponseShape) {
					t.Fatalf("expected ErrInvalidResponseShape, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("decodeResponse() error = %v", err)
			}
			if len(got.Tags) != tt.wantTags || got.InvalidEntries != tt.wantInvalid {
				t.Errorf("tags = %d invalid = %d, want %d and %d", len(got.Tags), got.InvalidEntries, tt.wantTags, tt.wantInvalid)
			}
			if got.OverallConfidence != tt.wantConf {
				t.Errorf("OverallConfidence = %v, want %v", got.OverallConfidence, tt.wantConf)
			}
			if got.SuggestedName != tt.wantName {
				t.Errorf("SuggestedName = %q, want %q", got.SuggestedName, tt.wantName)
			}
		})
	}
}

func TestAsNumber(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in     any
		want   float64
		wantOK bool
	}{
		{in: 0.5, want: 0.5, wantOK: true},
		{in: json.Number("3"), want: 3, wantOK: true},
		{in: " 7 ", want: 7, wantOK: true},
		{in: "seven", wantOK: false},
		{in: "NaN", wantOK: false},
		{in: math.Inf(1), wantOK: false},
		{in: true, wantOK: false},
		{in: nil, wantOK: false},
	}

	for _, tt := range tests {
		got, ok := asNumber(tt.in)
		if ok != tt.wantOK || (ok && got != tt.want) {
			t.Errorf("asNumber(%v) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}
