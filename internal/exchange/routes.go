package exchange

import (
	"net/http"
	"net/url"
	"strings"
)

// RouteKey names one Exchange Service endpoint.
type RouteKey string

var Routes = struct {
	IssueLinkID         RouteKey
	InitReceiverSession RouteKey
	InitSenderSession   RouteKey
	PrepareUpload       RouteKey
	InitUpload          RouteKey
	ReceiverChunk       RouteKey
	SenderChunk         RouteKey
	FinishUpload        RouteKey
	ReceiverMetadata    RouteKey
	SenderMetadata      RouteKey
	Keys                RouteKey
	ReceiverFile        RouteKey
	SenderFile          RouteKey
}{
	IssueLinkID:         "IssueLinkID",
	InitReceiverSession: "InitReceiverSession",
	InitSenderSession:   "InitSenderSession",
	PrepareUpload:       "PrepareUpload",
	InitUpload:          "InitUpload",
	ReceiverChunk:       "ReceiverChunk",
	SenderChunk:         "SenderChunk",
	FinishUpload:        "FinishUpload",
	ReceiverMetadata:    "ReceiverMetadata",
	SenderMetadata:      "SenderMetadata",
	Keys:                "Keys",
	ReceiverFile:        "ReceiverFile",
	SenderFile:          "SenderFile",
}

// Path parameter names used in route patterns.
const (
	ParamLinkID   = "linkId"
	ParamUploadID = "uploadId"
)

// Route is a method plus a path pattern relative to the service base URL.
type Route struct {
	Method string
	Path   string
}

// Pattern returns the net/http ServeMux pattern for the route.
func (r Route) Pattern() string {
	return r.Method + " " + r.Path
}

var routeTable = map[RouteKey]Route{
	Routes.IssueLinkID:         {http.MethodGet, "/request/init-link-id"},
	Routes.InitReceiverSession: {http.MethodPost, "/request/init-session"},
	Routes.InitSenderSession:   {http.MethodPost, "/send/init-session"},
	Routes.PrepareUpload:       {http.MethodPost, "/request/prepare-upload"},
	Routes.InitUpload:          {http.MethodPost, "/request/init-send-file"},
	Routes.ReceiverChunk:       {http.MethodPost, "/request/send-file-part/{linkId}/{uploadId}"},
	Routes.SenderChunk:         {http.MethodPost, "/send/send-file-part/{linkId}"},
	Routes.FinishUpload:        {http.MethodPost, "/request/finish-upload"},
	Routes.ReceiverMetadata:    {http.MethodPost, "/request/get-file-metadata"},
	Routes.SenderMetadata:      {http.MethodPost, "/send/get-file-metadata"},
	Routes.Keys:                {http.MethodPost, "/request/get-keys"},
	Routes.ReceiverFile:        {http.MethodPost, "/request/get-file"},
	Routes.SenderFile:          {http.MethodPost, "/send/get-file"},
}

// LookupRoute returns the route registered under key.
func LookupRoute(key RouteKey) (Route, bool) {
	r, ok := routeTable[key]
	return r, ok
}

// RouteKeys lists every registered route.
func RouteKeys() []RouteKey {
	keys := make([]RouteKey, 0, len(routeTable))
	for k := range routeTable {
		keys = append(keys, k)
	}
	return keys
}

// expand fills {name} placeholders with escaped values.
func (r Route) expand(params map[string]string) string {
	path := r.Path
	for name, value := range params {
		path = strings.ReplaceAll(path, "{"+name+"}", url.PathEscape(value))
	}
	return path
}
