package storage

import "testing"

func TestBaseURL(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want string
	}{
		{"public url", Options{Endpoint: "minio:9000", Bucket: "b", PublicURL: "https://cdn.example.com/files/"}, "https://cdn.example.com/files"},
		{"plain", Options{Endpoint: "minio:9000", Bucket: "uploads"}, "http://minio:9000/uploads"},
		{"tls", Options{Endpoint: "s3.example.com", Bucket: "uploads", UseSSL: true}, "https://s3.example.com/uploads"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := baseURL(tt.opts); got != tt.want {
				t.Errorf("baseURL = %q, want %q", got, tt.want)
			}
		})
	}
}
