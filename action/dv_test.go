package action

import "testing"

func TestDeletionVector_AbsolutePath(t *testing.T) {
	for _, tc := range []struct {
		name    string
		dv      DeletionVector
		want    string
		wantErr bool
	}{
		{"relative with prefix", DeletionVector{StorageType: DVRelative, PathOrInlineDv: "ab^-aqEH.-t@S}K{vb[*k^"}, "s3://lake/t/ab/deletion_vector_d2c639aa-8816-431a-aaf6-d3fe2512ff61.bin", false},
		{"relative without prefix", DeletionVector{StorageType: DVRelative, PathOrInlineDv: "^-aqEH.-t@S}K{vb[*k^"}, "s3://lake/t/deletion_vector_d2c639aa-8816-431a-aaf6-d3fe2512ff61.bin", false},
		{"absolute", DeletionVector{StorageType: DVAbsolute, PathOrInlineDv: "s3://other/dv.bin"}, "s3://other/dv.bin", false},
		{"inline", DeletionVector{StorageType: DVInline, PathOrInlineDv: "wi5b=000010000siXQKl0rr91000f55c8Xg0@@D72lkbi5=-{L"}, "", true},
		{"too short", DeletionVector{StorageType: DVRelative, PathOrInlineDv: "abc"}, "", true},
		{"bad alphabet", DeletionVector{StorageType: DVRelative, PathOrInlineDv: "~~~~~~~~~~~~~~~~~~~~"}, "", true},
		{"unknown type", DeletionVector{StorageType: "x"}, "", true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.dv.AbsolutePath("s3://lake/t/")
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("AbsolutePath: %v", err)
			}
			if got != tc.want {
				t.Errorf("AbsolutePath = %q, want %q", got, tc.want)
			}
		})
	}
}
