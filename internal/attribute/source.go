package attribute

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/hdf-devmgr/internal/device"
)

// document is the on-disk layout of an attribute file.
type document struct {
	Hosts      []hostEntry `yaml:"hosts"`
	Properties yaml.Node   `yaml:"properties"`
}

type hostEntry struct {
	ID       uint16        `yaml:"id"`
	Name     string        `yaml:"name"`
	Priority int           `yaml:"priority"`
	Devices  []deviceEntry `yaml:"devices"`
}

type deviceEntry struct {
	LocalID    uint16 `yaml:"local_id"`
	Service    string `yaml:"service"`
	Module     string `yaml:"module"`
	Policy     string `yaml:"policy"`
	Preload    string `yaml:"preload"`
	Priority   int    `yaml:"priority"`
	MatchAttr  string `yaml:"match_attr"`
	Permission uint32 `yaml:"permission"`
	Private    string `yaml:"private"`
}

type hostRecord struct {
	info    device.HostInfo
	devices []*device.Info
}

// Source serves host and device descriptors loaded from YAML.
//
// Host and device lists are ordered by ascending priority, ties kept in
// document order. Each GetDeviceList call returns fresh copies; the caller
// owns them.
type Source struct {
	hosts []hostRecord
	tree  *Tree
}

// LoadFile reads and parses an attribute file.
func LoadFile(path string) (*Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading attribute file: %w", err)
	}
	src, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing attribute file %s: %w", path, err)
	}
	return src, nil
}

// Parse builds a Source from YAML bytes.
func Parse(data []byte) (*Source, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding yaml: %w", err)
	}

	src := &Source{tree: &Tree{}}

	if doc.Properties.Kind != 0 {
		root, err := buildNode("root", nil, &doc.Properties)
		if err != nil {
			return nil, err
		}
		src.tree.Root = root
	}

	var errs []string
	hostIDs := make(map[uint16]struct{})
	services := make(map[string]device.ID)

	for _, h := range doc.Hosts {
		info := device.HostInfo{ID: h.ID, Name: h.Name, Priority: h.Priority}
		if err := device.ValidateHost(info); err != nil {
			errs = append(errs, err.Error())
			continue
		}
		if _, dup := hostIDs[h.ID]; dup {
			errs = append(errs, fmt.Sprintf("duplicate host id %d", h.ID))
			continue
		}
		hostIDs[h.ID] = struct{}{}

		rec := hostRecord{info: info}
		localIDs := make(map[uint16]struct{})
		order := make(map[device.ID]int, len(h.Devices))

		for i, d := range h.Devices {
			local := d.LocalID
			if local == 0 {
				local = uint16(i + 1)
			}
			if _, dup := localIDs[local]; dup {
				errs = append(errs, fmt.Sprintf("host %s: duplicate local id %d", h.Name, local))
				continue
			}
			localIDs[local] = struct{}{}

			di, err := toInfo(h.ID, local, d)
			if err != nil {
				errs = append(errs, err.Error())
				continue
			}
			if di.ServiceName != "" {
				if prev, dup := services[di.ServiceName]; dup {
					errs = append(errs, fmt.Sprintf("service %q declared by %s and %s", di.ServiceName, prev, di.ID))
					continue
				}
				services[di.ServiceName] = di.ID
			}
			order[di.ID] = d.Priority
			rec.devices = append(rec.devices, di)
		}

		sort.SliceStable(rec.devices, func(a, b int) bool {
			return order[rec.devices[a].ID] < order[rec.devices[b].ID]
		})
		src.hosts = append(src.hosts, rec)
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s", device.ErrInvalidParam, strings.Join(errs, "; "))
	}

	sort.SliceStable(src.hosts, func(a, b int) bool {
		return src.hosts[a].info.Priority < src.hosts[b].info.Priority
	})
	return src, nil
}

func toInfo(hostID, localID uint16, d deviceEntry) (*device.Info, error) {
	policy := device.PolicyNone
	if d.Policy != "" {
		p, err := device.ParsePolicy(d.Policy)
		if err != nil {
			return nil, err
		}
		policy = p
	}

	preload := device.PreloadEnable
	if d.Preload != "" {
		p, err := device.ParsePreload(d.Preload)
		if err != nil {
			return nil, err
		}
		preload = p
	}

	info := &device.Info{
		ID:          device.MakeID(hostID, localID),
		ServiceName: d.Service,
		ModuleName:  d.Module,
		MatchAttr:   d.MatchAttr,
		Policy:      policy,
		Preload:     preload,
		Permission:  d.Permission,
		Private:     d.Private,
	}
	if err := device.ValidateInfo(info); err != nil {
		return nil, err
	}
	return info, nil
}

// GetHostList returns every host in bring-up order.
func (s *Source) GetHostList(_ context.Context) ([]device.HostInfo, error) {
	out := make([]device.HostInfo, 0, len(s.hosts))
	for _, h := range s.hosts {
		out = append(out, h.info)
	}
	return out, nil
}

// GetDeviceList returns copies of the devices assigned to a host.
// An unknown host yields ErrNoHost. The name must match the host's
// declared name so a misrouted attach cannot pick up another host's drivers.
func (s *Source) GetDeviceList(_ context.Context, hostID uint16, hostName string) ([]*device.Info, error) {
	for _, h := range s.hosts {
		if h.info.ID != hostID {
			continue
		}
		if h.info.Name != hostName {
			return nil, fmt.Errorf("%w: host %d is %q, not %q", device.ErrNoHost, hostID, h.info.Name, hostName)
		}
		out := make([]*device.Info, 0, len(h.devices))
		for _, d := range h.devices {
			out = append(out, d.Clone())
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %d", device.ErrNoHost, hostID)
}

// Tree returns the configuration tree. It is never nil; Root is nil when
// the document had no properties section.
func (s *Source) Tree() *Tree {
	return s.tree
}
