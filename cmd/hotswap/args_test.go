package main

import (
	"testing"

	"github.com/wippyai/wasm-hotswap/value"
)

func TestConvertArg(t *testing.T) {
	tests := []struct {
		text    string
		kind    value.Kind
		want    any
		wantErr bool
	}{
		{"42", value.KindInt32, int32(42), false},
		{"-0x10", value.KindInt32, int32(-16), false},
		{"3000000000", value.KindInt32, nil, true},
		{"3000000000", value.KindInt64, int64(3000000000), false},
		{"1.5", value.KindFloat32, float32(1.5), false},
		{"2.25", value.KindFloat64, 2.25, false},
		{"true", value.KindBool, true, false},
		{"maybe", value.KindBool, nil, true},
		{"hello", value.KindString, "hello", false},
		{"8", value.KindObject, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String()+"/"+tt.text, func(t *testing.T) {
			got, err := convertArg(tt.text, tt.kind)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestStringList(t *testing.T) {
	var l stringList
	_ = l.Set("a")
	_ = l.Set("b")
	if l.String() != "a,b" || len(l) != 2 {
		t.Errorf("list = %v", l)
	}
}
