package utils

import (
	"encoding/base64"
	"strings"
	"sync"
	"testing"
)

func TestPackUnpackValue(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"empty", ""},
		{"lyrics record", `{"found":true,"record":{"id":3396226,"trackName":"I Want to Live","artistName":"Borislav Slavov"}}`},
		{"negative marker", `{"found":false,"trackName":"Nope","artistName":"unknown"}`},
		{"unicode", `{"trackName":"夜に駆ける","artistName":"YOASOBI"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			packed, err := PackValue(tt.value)
			if err != nil {
				t.Fatalf("PackValue error: %v", err)
			}
			got, err := UnpackValue(packed)
			if err != nil {
				t.Fatalf("UnpackValue error: %v", err)
			}
			if got != tt.value {
				t.Errorf("Expected %q, got %q", tt.value, got)
			}
		})
	}
}

func TestPackValue_ShrinksDifficultyData(t *testing.T) {
	notes := strings.Repeat(`{"_time":12.5,"_lineIndex":1,"_lineLayer":0,"_type":0,"_cutDirection":1},`, 200)

	packed, err := PackValue(notes)
	if err != nil {
		t.Fatalf("PackValue error: %v", err)
	}
	if ratio := float64(len(packed)) / float64(len(notes)); ratio > 0.1 {
		t.Errorf("Expected ratio < 0.1 for repetitive beatmap data, got %.2f", ratio)
	}
}

func TestPackValue_ConcurrentWritersDoNotMix(t *testing.T) {
	var wg sync.WaitGroup
	errs := make(chan string, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			value := strings.Repeat(string(rune('a'+i)), 1000+i)
			packed, err := PackValue(value)
			if err != nil {
				errs <- err.Error()
				return
			}
			if got, err := UnpackValue(packed); err != nil || got != value {
				errs <- "round trip mismatch"
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for e := range errs {
		t.Error(e)
	}
}

func TestUnpackValue_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		packed string
	}{
		{"not base64", "invalid_base64_string!"},
		{"base64 but not gzip", base64.StdEncoding.EncodeToString([]byte("plain text"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := UnpackValue(tt.packed); err == nil {
				t.Error("Expected an error")
			}
		})
	}
}

func TestEncodeBase64(t *testing.T) {
	data := []byte{0x4f, 0x67, 0x67, 0x53, 0x00, 0xff}

	decoded, err := base64.StdEncoding.DecodeString(EncodeBase64(data))
	if err != nil {
		t.Fatalf("EncodeBase64 produced invalid base64: %v", err)
	}
	if string(decoded) != string(data) {
		t.Errorf("Round trip mismatch: got %v, want %v", decoded, data)
	}
}
