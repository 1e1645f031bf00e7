package common

import "testing"

func TestStringArrayRoundTrip(t *testing.T) {
	var arr StringArray
	if err := arr.Scan([]byte(`["a","b"]`)); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(arr) != 2 || !arr.Contains("b") {
		t.Fatalf("unexpected array %v", arr)
	}
	value, err := StringArray(nil).Value()
	if err != nil || value != "[]" {
		t.Fatalf("expected [] for empty array, got %v (%v)", value, err)
	}
}

func TestBaseParamsNormalize(t *testing.T) {
	tests := []struct {
		name         string
		params       BaseParams
		wantPage     int64
		wantPageSize int64
	}{
		{name: "默认值", params: BaseParams{}, wantPage: 1, wantPageSize: 20},
		{name: "超过上限", params: BaseParams{Page: 3, PageSize: 500}, wantPage: 3, wantPageSize: 100},
		{name: "正常值", params: BaseParams{Page: 2, PageSize: 10}, wantPage: 2, wantPageSize: 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, size := tt.params.Normalize(20, 100)
			if page != tt.wantPage || size != tt.wantPageSize {
				t.Errorf("expected (%d,%d), got (%d,%d)", tt.wantPage, tt.wantPageSize, page, size)
			}
		})
	}
}
