package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNewError(t *testing.T) {
	t.Parallel()

	t.Run("creates error with all defaults", func(t *testing.T) {
		err := NewError(ErrCodeInvalidConfig, "configuration is invalid")
		if err == nil {
			t.Fatal("NewError returned nil")
		}
		if err.Code != ErrCodeInvalidConfig {
			t.Errorf("Code = %v, want %v", err.Code, ErrCodeInvalidConfig)
		}
		if err.Message != "configuration is invalid" {
			t.Errorf("Message = %q, want %q", err.Message, "configuration is invalid")
		}
		if err.Category != CategoryConfiguration {
			t.Errorf("Category = %v, want %v", err.Category, CategoryConfiguration)
		}
		if err.Details == nil {
			t.Error("Details map is nil")
		}
		if err.Context == nil {
			t.Error("Context map is nil")
		}
		if err.Timestamp.IsZero() {
			t.Error("Timestamp not set")
		}
	})

	t.Run("sets correct retryable defaults", func(t *testing.T) {
		if !NewError(ErrCodeCheckpointFailed, "write failed").Retryable {
			t.Error("CheckpointFailed should be retryable by default")
		}
		if NewError(ErrCodeInvalidConfig, "config invalid").Retryable {
			t.Error("InvalidConfig should not be retryable by default")
		}
	})

	t.Run("sets correct user-facing defaults", func(t *testing.T) {
		if !NewError(ErrCodeVolumeNotFound, "no such volume").UserFacing {
			t.Error("VolumeNotFound should be user-facing by default")
		}
		if NewError(ErrCodeInternalError, "internal error").UserFacing {
			t.Error("InternalError should not be user-facing by default")
		}
	})
}

func TestGetCategory(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code ErrorCode
		want ErrorCategory
	}{
		{ErrCodeInvalidConfig, CategoryConfiguration},
		{ErrCodeConfigLoad, CategoryConfiguration},
		{ErrCodeConfigSave, CategoryConfiguration},
		{ErrCodeMountFailed, CategoryVolume},
		{ErrCodeUnmountFailed, CategoryVolume},
		{ErrCodeVolumeExists, CategoryVolume},
		{ErrCodeVolumeNotFound, CategoryVolume},
		{ErrCodeCheckpointFailed, CategoryVolume},
		{ErrCodeAlreadyStarted, CategoryState},
		{ErrCodeNotInitialized, CategoryState},
		{ErrCodeShutdownInProgress, CategoryState},
		{ErrCodeOutOfMemory, CategoryResource},
		{ErrCodeInternalError, CategoryInternal},
		{ErrorCode("SOMETHING_ELSE"), CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := GetCategory(tt.code); got != tt.want {
				t.Errorf("GetCategory(%v) = %v, want %v", tt.code, got, tt.want)
			}
		})
	}
}

func TestReclaimError_Error(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  *ReclaimError
		want string
	}{
		{
			name: "code and message only",
			err:  NewError(ErrCodeVolumeNotFound, "volume data0 not mounted"),
			want: "VOLUME_NOT_FOUND: volume data0 not mounted",
		},
		{
			name: "with component",
			err:  NewError(ErrCodeVolumeExists, "already mounted").WithComponent("volume"),
			want: "[volume] VOLUME_EXISTS: already mounted",
		},
		{
			name: "with component and operation",
			err:  NewError(ErrCodeUnmountFailed, "flush failed").WithComponent("volume").WithOperation("unmount"),
			want: "[volume:unmount] UNMOUNT_FAILED: flush failed",
		},
		{
			name: "with cause",
			err:  Wrap(fmt.Errorf("disk gone"), ErrCodeCheckpointFailed, "checkpoint"),
			want: "CHECKPOINT_FAILED: checkpoint: disk gone",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestReclaimError_UnwrapAndIs(t *testing.T) {
	t.Parallel()

	cause := errors.New("device gone")
	err := Wrap(cause, ErrCodeCheckpointFailed, "flush")

	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the cause")
	}
	if !errors.Is(err, NewError(ErrCodeCheckpointFailed, "")) {
		t.Error("errors.Is should match on code")
	}
	if errors.Is(err, NewError(ErrCodeMountFailed, "")) {
		t.Error("errors.Is should not match a different code")
	}
}

func TestHasCode(t *testing.T) {
	t.Parallel()

	inner := Wrap(errors.New("io"), ErrCodeCheckpointFailed, "flush")
	outer := Wrap(inner, ErrCodeUnmountFailed, "unmount data0")
	wrapped := fmt.Errorf("shutdown: %w", outer)

	tests := []struct {
		name string
		err  error
		code ErrorCode
		want bool
	}{
		{"outer code", wrapped, ErrCodeUnmountFailed, true},
		{"inner code", wrapped, ErrCodeCheckpointFailed, true},
		{"absent code", wrapped, ErrCodeMountFailed, false},
		{"plain error", errors.New("x"), ErrCodeInternalError, false},
		{"nil", nil, ErrCodeInternalError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasCode(tt.err, tt.code); got != tt.want {
				t.Errorf("HasCode() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReclaimError_String(t *testing.T) {
	t.Parallel()

	err := NewError(ErrCodeCheckpointFailed, "flush failed").
		WithComponent("volume").
		WithOperation("unmount").
		WithDetail("dirty", 12).
		WithCause(errors.New("io error"))

	s := err.String()
	for _, want := range []string{
		"Code=CHECKPOINT_FAILED",
		"Category=volume",
		`Message="flush failed"`,
		"Component=volume",
		"Operation=unmount",
		"Retryable=true",
		`Details={"dirty":12}`,
		`Cause="io error"`,
	} {
		if !strings.Contains(s, want) {
			t.Errorf("String() = %q, missing %q", s, want)
		}
	}
}

func TestReclaimError_Diagnostic(t *testing.T) {
	t.Parallel()

	err := NewError(ErrCodeVolumeExists, "volume data0 is already mounted").
		WithComponent("volume").
		WithOperation("mount").
		WithContext("volume", "data0").
		WithContext("config", "reclaimd.yaml").
		WithCause(errors.New("duplicate name"))

	out := err.Diagnostic()
	for _, want := range []string{
		"Error: volume data0 is already mounted",
		"Code: VOLUME_EXISTS",
		"Component: volume",
		"Operation: mount",
		"  config: reclaimd.yaml\n  volume: data0",
		"Unmount it first",
		"Underlying cause: duplicate name",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Diagnostic() = %q, missing %q", out, want)
		}
	}

	internal := NewError(ErrCodeInternalError, "nil record").Diagnostic()
	if strings.Contains(internal, "nil record") {
		t.Errorf("internal detail leaked: %q", internal)
	}
}

func TestUserFacingMessage(t *testing.T) {
	t.Parallel()

	if got := NewError(ErrCodeVolumeNotFound, "volume x not mounted").UserFacingMessage(); got != "volume x not mounted" {
		t.Errorf("UserFacingMessage() = %q", got)
	}
	if got := NewError(ErrCodeInternalError, "nil record").UserFacingMessage(); !strings.Contains(got, "internal error") {
		t.Errorf("UserFacingMessage() = %q, want generic message", got)
	}
	if rec := NewError(ErrCodeVolumeExists, "").GetRecommendation(); !strings.Contains(rec, "Unmount") {
		t.Errorf("GetRecommendation() = %q", rec)
	}
	if rec := NewError(ErrCodeInternalError, "").GetRecommendation(); rec == "" {
		t.Error("GetRecommendation() should have a fallback")
	}
}
