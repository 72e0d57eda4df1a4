package drivetree

import (
	"errors"
	"testing"

	"google.golang.org/api/googleapi"

	"github.com/dtnitsch/drive-ocr/pkg/retry"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want retry.Class
	}{
		{name: "quota", err: &googleapi.Error{Code: 429}, want: retry.ClassTransient},
		{name: "server error", err: &googleapi.Error{Code: 503}, want: retry.ClassTransient},
		{name: "unauthorized", err: &googleapi.Error{Code: 401}, want: retry.ClassFatal},
		{name: "forbidden", err: &googleapi.Error{Code: 403}, want: retry.ClassFatal},
		{name: "vanished node", err: &googleapi.Error{Code: 404}, want: retry.ClassPermanent},
		{name: "other api error", err: &googleapi.Error{Code: 400}, want: retry.ClassPermanent},
		{name: "plain network error", err: errors.New("connection reset by peer"), want: retry.ClassTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := retry.ClassOf(classify("drive.list", tt.err)); got != tt.want {
				t.Errorf("classify() class = %v, want %v", got, tt.want)
			}
		})
	}
}
