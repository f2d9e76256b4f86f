package domain

import "fmt"

// StandardGravity converts geopotential height (gpm) to geopotential (m^2/s^2).
const StandardGravity = 9.81

// ChannelSet names a fixed, ordered list of model channels.
type ChannelSet string

const (
	// ChannelSetVar34 is the 34-channel set of the first generation global models.
	ChannelSetVar34 ChannelSet = "var34"
	// ChannelSetVar73 is the 73-channel set with 13 pressure levels.
	ChannelSetVar73 ChannelSet = "var73"
)

var pressureLevels = []int{50, 100, 150, 200, 250, 300, 400, 500, 600, 700, 850, 925, 1000}

var channelSets = map[ChannelSet][]string{
	ChannelSetVar34: {
		"u10m", "v10m", "t2m", "sp", "msl", "t850", "u1000", "v1000", "z1000",
		"u850", "v850", "z850", "u500", "v500", "z500", "t500", "z50", "r500",
		"r850", "tcwv", "u100m", "v100m", "u250", "v250", "z250", "t250",
		"u100", "v100", "z100", "t100", "u900", "v900", "z900", "t900",
	},
	ChannelSetVar73: var73(),
}

// Surface channels and their GFS GRIB2 identifiers.
var gfsSurface = [][2]string{
	{"u10m", "UGRD:10 m above ground"},
	{"v10m", "VGRD:10 m above ground"},
	{"u100m", "UGRD:100 m above ground"},
	{"v100m", "VGRD:100 m above ground"},
	{"t2m", "TMP:2 m above ground"},
	{"sp", "PRES:surface"},
	{"msl", "PRMSL:"},
	{"tcwv", "PWAT:entire atmosphere"},
}

// Pressure-level channel prefixes and their GFS variable names. Specific
// humidity (q) is mapped but not part of var73.
var gfsLevel = [][2]string{
	{"u", "UGRD"},
	{"v", "VGRD"},
	{"z", "HGT"},
	{"t", "TMP"},
	{"r", "RH"},
	{"q", "SPFH"},
}

func var73() []string {
	out := make([]string, 0, 73)
	for _, s := range gfsSurface {
		out = append(out, s[0])
	}
	for _, l := range gfsLevel {
		if l[0] == "q" {
			continue
		}
		for _, p := range pressureLevels {
			out = append(out, fmt.Sprintf("%s%d", l[0], p))
		}
	}
	return out
}

// Channels returns the ordered channel names of a set.
func (s ChannelSet) Channels() ([]string, bool) {
	c, ok := channelSets[s]
	if !ok {
		return nil, false
	}
	return append([]string(nil), c...), true
}

// Contains reports whether the set includes the channel.
func (s ChannelSet) Contains(channel string) bool {
	for _, c := range channelSets[s] {
		if c == channel {
			return true
		}
	}
	return false
}

// ParseChannelSet validates a channel set name.
func ParseChannelSet(name string) (ChannelSet, error) {
	s := ChannelSet(name)
	if _, ok := channelSets[s]; !ok {
		return "", fmt.Errorf("unknown channel set %q", name)
	}
	return s, nil
}

// GFSName returns the GFS GRIB2 "VARIABLE:level" identifier of a channel.
func GFSName(channel string) (string, bool) {
	for _, s := range gfsSurface {
		if s[0] == channel {
			return s[1], true
		}
	}
	for _, l := range gfsLevel {
		for _, p := range pressureLevels {
			if channel == fmt.Sprintf("%s%d", l[0], p) {
				return fmt.Sprintf("%s:%d mb", l[1], p), true
			}
		}
	}
	return "", false
}

// IsGeopotential reports whether a channel is geopotential on a pressure level.
func IsGeopotential(channel string) bool {
	for _, p := range pressureLevels {
		if channel == fmt.Sprintf("z%d", p) {
			return true
		}
	}
	return channel == "z900"
}
