package device

import (
	"fmt"
	"regexp"
	"strings"
)

// Validation constants.
const (
	maxServiceNameLength = 64
	maxModuleNameLength  = 64
	serviceNamePattern   = `^[a-zA-Z0-9_.\-]*$`
)

var serviceNameRegex = regexp.MustCompile(serviceNamePattern)

// Pre-computed validation sets for O(1) lookups.
var (
	validPolicies map[Policy]struct{}
	validPreloads map[Preload]struct{}
)

func init() {
	validPolicies = make(map[Policy]struct{}, len(AllPolicies()))
	for _, p := range AllPolicies() {
		validPolicies[p] = struct{}{}
	}

	validPreloads = make(map[Preload]struct{}, len(AllPreloads()))
	for _, p := range AllPreloads() {
		validPreloads[p] = struct{}{}
	}
}

// ValidateInfo checks a device descriptor before it is handed to a host.
// All problems are reported together, wrapped in ErrInvalidParam.
func ValidateInfo(info *Info) error {
	if info == nil {
		return fmt.Errorf("%w: nil device info", ErrInvalidParam)
	}

	var errs []string

	if info.ModuleName == "" {
		errs = append(errs, "module name is required")
	} else if len(info.ModuleName) > maxModuleNameLength {
		errs = append(errs, fmt.Sprintf("module name exceeds %d characters", maxModuleNameLength))
	}

	if len(info.ServiceName) > maxServiceNameLength {
		errs = append(errs, fmt.Sprintf("service name exceeds %d characters", maxServiceNameLength))
	} else if !serviceNameRegex.MatchString(info.ServiceName) {
		errs = append(errs, fmt.Sprintf("service name %q contains invalid characters", info.ServiceName))
	}

	if _, ok := validPolicies[info.Policy]; !ok {
		errs = append(errs, fmt.Sprintf("unknown policy %d", int(info.Policy)))
	}
	if _, ok := validPreloads[info.Preload]; !ok {
		errs = append(errs, fmt.Sprintf("unknown preload %d", int(info.Preload)))
	}

	// A published policy without a name has nothing to publish under.
	if info.Policy.RequiresBind() && info.ServiceName == "" {
		errs = append(errs, "service name is required for policy "+info.Policy.String())
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: device %s: %s", ErrInvalidParam, info.ID, strings.Join(errs, "; "))
	}
	return nil
}

// ValidateHost checks a host descriptor.
func ValidateHost(host HostInfo) error {
	if host.Name == "" {
		return fmt.Errorf("%w: host %d has no name", ErrInvalidParam, host.ID)
	}
	return nil
}
