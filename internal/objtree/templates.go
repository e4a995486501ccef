package objtree

import "obixd/internal/model"

// InstallDefaultTemplates registers the static system templates named in
// §4.1. These are the minimal stand-ins for the sys/server_*.xml
// fragments. On-disk sys/ fragments are merged into the tree by LoadDir
// and do not replace these registered templates.
func (t *Tree) InstallDefaultTemplates() {
	t.RegisterTemplate("error", &model.Node{
		Kind: model.Obj, Is: "obix:err",
		Children: []*model.Node{
			{Kind: model.Str, Name: "display"},
		},
	})
	t.RegisterTemplate("fatal-error", &model.Node{
		Kind: model.Obj, Is: "obix:FatalErrorContract",
		Children: []*model.Node{
			{Kind: model.Str, Name: "display", Val: "internal server error"},
		},
	})
	t.RegisterTemplate("watch", &model.Node{
		Kind: model.Obj, Is: "obix:Watch",
		Children: []*model.Node{
			{Kind: model.Op, Name: "add", Href: "add", Is: "obix:WatchIn obix:WatchOut",
				Children: []*model.Node{{Kind: model.Meta, Name: "op", Val: itoa(handlerWatchAdd)}}},
			{Kind: model.Op, Name: "remove", Href: "remove", Is: "obix:WatchIn",
				Children: []*model.Node{{Kind: model.Meta, Name: "op", Val: itoa(handlerWatchRemove)}}},
			{Kind: model.Op, Name: "pollChanges", Href: "pollChanges", Is: "obix:WatchOut",
				Children: []*model.Node{{Kind: model.Meta, Name: "op", Val: itoa(handlerWatchPollChanges)}}},
			{Kind: model.Op, Name: "pollRefresh", Href: "pollRefresh", Is: "obix:WatchOut",
				Children: []*model.Node{{Kind: model.Meta, Name: "op", Val: itoa(handlerWatchPollRefresh)}}},
			{Kind: model.Op, Name: "delete", Href: "delete",
				Children: []*model.Node{{Kind: model.Meta, Name: "op", Val: itoa(handlerWatchDelete)}}},
			{Kind: model.RelTime, Name: "lease", Href: "lease", Writable: true, Val: "PT1H"},
			{Kind: model.Obj, Name: "pollWaitInterval", Href: "pollWaitInterval", Children: []*model.Node{
				{Kind: model.RelTime, Name: "min", Val: "PT0S"},
				{Kind: model.RelTime, Name: "max", Val: "PT1M"},
			}},
		},
	})
	t.RegisterTemplate("watch-out", &model.Node{
		Kind: model.List, Name: "values", Is: "obix:WatchOut",
	})
	t.RegisterTemplate("batch-out", &model.Node{
		Kind: model.List, Is: "obix:BatchOut",
	})
	t.RegisterTemplate("history-device", &model.Node{
		Kind: model.Obj, Is: "obix:HistoryDeviceContract",
		Children: []*model.Node{
			{Kind: model.Op, Name: "query", Href: "query", Is: "obix:HistoryFilter obix:HistoryQueryOut",
				Children: []*model.Node{{Kind: model.Meta, Name: "op", Val: itoa(handlerHistoryQuery)}}},
			{Kind: model.Op, Name: "append", Href: "append", Is: "obix:HistoryAppendIn obix:HistoryAppendOut",
				Children: []*model.Node{{Kind: model.Meta, Name: "op", Val: itoa(handlerHistoryAppend)}}},
		},
	})
	t.RegisterTemplate("history-abstract", &model.Node{
		Kind: model.Obj, Is: "obix:HistoryFileAbstract",
		Children: []*model.Node{
			{Kind: model.AbsTime, Name: "date"},
			{Kind: model.Int, Name: "count"},
			{Kind: model.AbsTime, Name: "start"},
			{Kind: model.AbsTime, Name: "end"},
		},
	})
	t.RegisterTemplate("history-append-out", &model.Node{
		Kind: model.Obj, Is: "obix:HistoryAppendOut",
		Children: []*model.Node{
			{Kind: model.Int, Name: "numAdded"},
			{Kind: model.Int, Name: "newCount"},
			{Kind: model.AbsTime, Name: "newStart"},
			{Kind: model.AbsTime, Name: "newEnd"},
		},
	})
}
