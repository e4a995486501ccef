package objtree

import "obixd/internal/model"

// Handler ids duplicated from dispatch's stable table (dispatch imports
// objtree, so the reverse import is not available here); they name the
// hidden meta op= markers the Request Dispatcher reads back out of the
// tree it is handed.
const (
	handlerWatchMake        = 1
	handlerWatchAdd         = 2
	handlerWatchRemove      = 3
	handlerWatchPollChanges = 4
	handlerWatchPollRefresh = 5
	handlerWatchDelete      = 6
	handlerSignUp           = 7
	handlerBatch            = 9
	handlerHistoryQuery     = 11
	handlerHistoryAppend    = 12
)

// InstallLobby installs the fixed top-level singletons every oBIX server
// exposes under an "obix" lobby node beneath t's root (so at /obix/...):
// the device root, watch and history services, and the batch and signUp
// operations. Grounded on
// original_source/src/server/obix.c's lobby assembly; the device/watch/
// history subtrees themselves are populated by their respective
// subsystems once constructed.
func (t *Tree) InstallLobby() (deviceRoot, watchService, historyService *model.Node) {
	t.Insert(t.Root(), &model.Node{Kind: model.Obj, Name: "obix", Href: "obix", Is: "obix:Lobby"})
	root := t.Get("/obix")

	t.Insert(root, &model.Node{Kind: model.Obj, Name: "about", Href: "about", Is: "obix:About"})

	t.Insert(root, &model.Node{
		Kind: model.Op, Name: "signUp", Href: "signUp", Is: "obix:DeviceContract",
		Children: []*model.Node{{Kind: model.Meta, Name: "op", Val: itoa(handlerSignUp)}},
	})

	t.Insert(root, &model.Node{
		Kind: model.Op, Name: "batch", Href: "batch", Is: "obix:BatchIn obix:BatchOut",
		Children: []*model.Node{{Kind: model.Meta, Name: "op", Val: itoa(handlerBatch)}},
	})

	deviceRoot = &model.Node{Kind: model.Obj, Name: "deviceRoot", Href: "deviceRoot", Is: "obix:DeviceRoot"}
	t.Insert(root, deviceRoot)

	watchService = &model.Node{Kind: model.Obj, Name: "watchService", Href: "watchService", Is: "obix:WatchService"}
	watchService.AddChild(&model.Node{
		Kind: model.Op, Name: "make", Href: "make", Is: "obix:WatchOut",
		Children: []*model.Node{{Kind: model.Meta, Name: "op", Val: itoa(handlerWatchMake)}},
	})
	t.Insert(root, watchService)

	historyService = &model.Node{Kind: model.Obj, Name: "historyService", Href: "historyService", Is: "obix:HistoryService"}
	historyService.AddChild(&model.Node{Kind: model.Obj, Name: "histories", Href: "histories"})
	t.Insert(root, historyService)

	return deviceRoot, watchService, historyService
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := make([]byte, 0, 4)
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}
