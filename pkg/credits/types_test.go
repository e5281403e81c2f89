package credits

import (
	"errors"
	"testing"
)

func TestValueConstructorsValidate(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name    string
		build   func() error
		wantErr error
	}{
		{name: "blank user uuid", build: func() error { _, err := NewUserUUID("  "); return err }, wantErr: ErrInvalidUserUUID},
		{name: "blank business no", build: func() error { _, err := NewBusinessNo(""); return err }, wantErr: ErrInvalidBusinessNo},
		{name: "invalid metadata", build: func() error { _, err := NewMetadataJSON("{"); return err }, wantErr: ErrInvalidMetadataJSON},
		{name: "negative points", build: func() error { _, err := NewPoints(-1); return err }, wantErr: ErrInvalidPoints},
		{name: "zero positive points", build: func() error { _, err := NewPositivePoints(0); return err }, wantErr: ErrInvalidPoints},
		{name: "zero delta", build: func() error { _, err := NewPointsDelta(0); return err }, wantErr: ErrInvalidPointsDelta},
		{name: "unknown business type", build: func() error { _, err := ParseBusinessType("gift"); return err }, wantErr: ErrInvalidBusinessType},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			if err := testCase.build(); !errors.Is(err, testCase.wantErr) {
				test.Fatalf("expected %v, got %v", testCase.wantErr, err)
			}
		})
	}
}

func TestValueConstructorsNormalize(test *testing.T) {
	test.Parallel()
	userUUID := mustUserUUID(test, "  abc  ")
	if userUUID.String() != "abc" {
		test.Fatalf("expected trimmed uuid, got %q", userUUID.String())
	}
	if mustMetadata(test, "").String() != "{}" {
		test.Fatalf("expected empty metadata to default to {}")
	}
	if (MetadataJSON{}).String() != "{}" {
		test.Fatalf("expected zero metadata to render as {}")
	}
	businessType, err := ParseBusinessType(" consume ")
	if err != nil || businessType != BusinessConsume {
		test.Fatalf("expected consume, got %q (%v)", businessType, err)
	}
	if mustPositivePoints(test, 3).ToDelta().Negated() != PointsDelta(-3) {
		test.Fatalf("expected negated delta")
	}
}
