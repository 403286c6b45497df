package device

import (
	"errors"
	"strings"
	"testing"
)

func validInfo() *Info {
	return &Info{
		ID:          MakeID(1, 1),
		ServiceName: "sample_service",
		ModuleName:  "sample_driver",
		Policy:      PolicyPublic,
		Preload:     PreloadEnable,
	}
}

func TestValidateInfo_Valid(t *testing.T) {
	if err := ValidateInfo(validInfo()); err != nil {
		t.Errorf("ValidateInfo() error = %v", err)
	}
}

func TestValidateInfo_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Info)
		want   string
	}{
		{"missing module", func(i *Info) { i.ModuleName = "" }, "module name is required"},
		{"long module", func(i *Info) { i.ModuleName = strings.Repeat("m", maxModuleNameLength+1) }, "module name exceeds"},
		{"bad service chars", func(i *Info) { i.ServiceName = "bad name!" }, "invalid characters"},
		{"unknown policy", func(i *Info) { i.Policy = Policy(42) }, "unknown policy"},
		{"unknown preload", func(i *Info) { i.Preload = Preload(42) }, "unknown preload"},
		{"public without name", func(i *Info) { i.ServiceName = "" }, "service name is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := validInfo()
			tt.mutate(info)
			err := ValidateInfo(info)
			if !errors.Is(err, ErrInvalidParam) {
				t.Fatalf("ValidateInfo() error = %v, want ErrInvalidParam", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("ValidateInfo() error = %q, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestValidateInfo_NoneWithoutName(t *testing.T) {
	info := validInfo()
	info.Policy = PolicyNone
	info.ServiceName = ""
	if err := ValidateInfo(info); err != nil {
		t.Errorf("ValidateInfo() error = %v, want nil for unpublished device", err)
	}
}

func TestValidateInfo_Nil(t *testing.T) {
	if err := ValidateInfo(nil); !errors.Is(err, ErrInvalidParam) {
		t.Errorf("ValidateInfo(nil) error = %v, want ErrInvalidParam", err)
	}
}

func TestValidateHost(t *testing.T) {
	if err := ValidateHost(HostInfo{ID: 1, Name: "sample_host"}); err != nil {
		t.Errorf("ValidateHost() error = %v", err)
	}
	if err := ValidateHost(HostInfo{ID: 1}); !errors.Is(err, ErrInvalidParam) {
		t.Errorf("ValidateHost(no name) error = %v, want ErrInvalidParam", err)
	}
}
