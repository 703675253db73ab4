package server

import (
	"errors"
	"strings"
)

// Path prefixes for the release read endpoint (configsPrefix), the
// configfiles rendering endpoints (configFilesPrefix and its json form),
// and the long-poll notification endpoint.
const (
	configsPrefix          = "/configs/"
	configFilesPrefix      = "/configfiles/"
	configFilesJSONPrefix  = "/configfiles/json/"
	notificationsPath      = "/notifications/v2"
)

// parseConfigsPath extracts {appId}/{cluster}/{namespace} from
// /configs/{appId}/{cluster}/{namespace} via a dedicated, error-returning
// path parser rather than ad hoc string slicing inline in the handler.
func parseConfigsPath(path string) (appID, cluster, namespace string, err error) {
	return parseThreeSegmentPath(path, configsPrefix)
}

// parseConfigFilesPath extracts {appId}/{cluster}/{namespace} from
// /configfiles/{appId}/{cluster}/{namespace}, returning asJSON=true when
// the request instead used the /configfiles/json/... form.
func parseConfigFilesPath(path string) (appID, cluster, namespace string, asJSON bool, err error) {
	if strings.HasPrefix(path, configFilesJSONPrefix) {
		appID, cluster, namespace, err = parseThreeSegmentPath(path, configFilesJSONPrefix)
		return appID, cluster, namespace, true, err
	}
	appID, cluster, namespace, err = parseThreeSegmentPath(path, configFilesPrefix)
	return appID, cluster, namespace, false, err
}

func parseThreeSegmentPath(path, prefix string) (appID, cluster, namespace string, err error) {
	if !strings.HasPrefix(path, prefix) {
		return "", "", "", errors.New("invalid path; expected " + prefix + "{appId}/{cluster}/{namespace}")
	}
	rest := strings.TrimPrefix(path, prefix)
	rest = strings.TrimSuffix(rest, "/")
	segments := strings.Split(rest, "/")
	if len(segments) != 3 || segments[0] == "" || segments[1] == "" || segments[2] == "" {
		return "", "", "", errors.New("invalid path; expected " + prefix + "{appId}/{cluster}/{namespace}")
	}
	return segments[0], segments[1], segments[2], nil
}
