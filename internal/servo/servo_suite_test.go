package servo_test

import (
	"io"
	"log/slog"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestServo(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Servo Suite")
}

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))
