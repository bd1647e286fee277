package steps

// Kind names one step of the build graph. The set is closed: every launcher
// a mode can register carries one of these tags, and the dependency table
// below is keyed by them.
type Kind int

const (
	KindPullBaseImage Kind = iota
	KindPullBaseLayers
	KindBuildAppLayers
	KindBuildImage
	KindFetchCredentials
	KindAuthenticatePush
	KindPushBaseLayers
	KindPushAppLayers
	KindPushConfig
	KindPushManifests
	KindLoadDaemon
	KindWriteTar
)

var kindNames = map[Kind]string{
	KindPullBaseImage:    "pull base image",
	KindPullBaseLayers:   "pull and cache base image layers",
	KindBuildAppLayers:   "build and cache application layers",
	KindBuildImage:       "build image",
	KindFetchCredentials: "fetch target registry credentials",
	KindAuthenticatePush: "authenticate push",
	KindPushBaseLayers:   "push base image layers",
	KindPushAppLayers:    "push application layers",
	KindPushConfig:       "push container configuration",
	KindPushManifests:    "push manifests",
	KindLoadDaemon:       "load image into local daemon",
	KindWriteTar:         "write image tar archive",
}

// String returns the step's human-readable name.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown step"
}

// stepInputs declares which result slots each step reads. A launcher must
// never read a slot it does not declare here; the runner validates before
// dispatching any work that every declared input is registered earlier.
var stepInputs = map[Kind][]Kind{
	KindPullBaseImage:    nil,
	KindPullBaseLayers:   {KindPullBaseImage},
	KindBuildAppLayers:   nil,
	KindBuildImage:       {KindPullBaseImage, KindPullBaseLayers, KindBuildAppLayers},
	KindFetchCredentials: nil,
	KindAuthenticatePush: {KindFetchCredentials},
	KindPushBaseLayers:   {KindPullBaseLayers, KindAuthenticatePush},
	KindPushAppLayers:    {KindBuildAppLayers, KindAuthenticatePush},
	KindPushConfig:       {KindAuthenticatePush, KindBuildImage},
	KindPushManifests:    {KindPushBaseLayers, KindPushAppLayers, KindAuthenticatePush, KindPushConfig, KindBuildImage},
	KindLoadDaemon:       {KindBuildImage},
	KindWriteTar:         {KindBuildImage},
}
