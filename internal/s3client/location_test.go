package s3client

import "testing"

func TestParseLocation(t *testing.T) {
	tests := []struct {
		location    string
		bucket, key string
		wantErr     bool
	}{
		{location: "s3://lake/sales/orders", bucket: "lake", key: "sales/orders"},
		{location: "s3a://lake/sales/orders/", bucket: "lake", key: "sales/orders"},
		{location: "s3n://lake", bucket: "lake", key: ""},
		{location: "gs://lake/orders", wantErr: true},
		{location: "s3:///orders", wantErr: true},
		{location: "/data/orders", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.location, func(t *testing.T) {
			bucket, key, err := ParseLocation(tt.location)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseLocation = %q %q, want error", bucket, key)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if bucket != tt.bucket || key != tt.key {
				t.Errorf("ParseLocation = %q %q, want %q %q", bucket, key, tt.bucket, tt.key)
			}
		})
	}
}

func TestJoinKey(t *testing.T) {
	if got := JoinKey("sales/orders/", "", "/_delta_log", "00000000000000000000.json"); got != "sales/orders/_delta_log/00000000000000000000.json" {
		t.Errorf("JoinKey = %q", got)
	}
	if got := JoinKey("", "a"); got != "a" {
		t.Errorf("JoinKey = %q", got)
	}
}
