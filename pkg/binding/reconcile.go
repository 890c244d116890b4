package binding

import (
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/kwatch-io/kwatch/pkg/descriptor"
	"github.com/kwatch-io/kwatch/pkg/model"
	"github.com/kwatch-io/kwatch/pkg/store"
)

// reconcileInput is the full set of facts the decision procedure consumes.
// Everything is a snapshot; reconcile never reads shared state itself.
type reconcileInput struct {
	Descriptor *descriptor.Descriptor
	Model      *model.TypeModel
	// Record is nil when no subscription exists. A record with Version zero
	// was created by subscribe but has not received anything from the
	// transport yet and counts as absent.
	Record *store.Record

	ModelFetchInFlight bool
	BatchFetchInFlight bool
	RetryBudgetLeft    bool
	AllModelsLoaded    bool

	EmptyObjectPlaceholder bool
}

type reconcileOutcome struct {
	Result Result
	// FetchModel instructs the caller to trigger one forced model fetch and
	// charge the retry budget. It is the only side effect reconcile asks for.
	FetchModel bool
}

// reconcile computes the observable result from current inputs.
//
// Decision order:
//  1. sentinel descriptor: vacuously loaded, no data, no error;
//  2. no transport data yet: placeholder data, possibly trigger a model
//     fetch, and decide between "still waiting" and "model does not exist";
//  3. transport data present: decode it and mirror the record's
//     loaded/error fields verbatim.
func reconcile(in reconcileInput) reconcileOutcome {
	if in.Descriptor.IsNothing() {
		return reconcileOutcome{Result: Result{Data: nil, Loaded: true, Error: nil}}
	}

	if in.Record == nil || in.Record.Version == 0 {
		placeholder := placeholderData(in.Descriptor.IsList, in.EmptyObjectPlaceholder)

		fetch := in.Model == nil &&
			!in.ModelFetchInFlight &&
			!in.BatchFetchInFlight &&
			in.RetryBudgetLeft

		if in.AllModelsLoaded && in.Model == nil && !in.BatchFetchInFlight {
			// The registry finished loading and still has nothing for this
			// kind: the model genuinely does not exist.
			return reconcileOutcome{
				Result: Result{
					Data:   placeholder,
					Loaded: true,
					Error:  &model.NotFoundError{GVK: in.Descriptor.GVK()},
				},
				FetchModel: fetch,
			}
		}
		return reconcileOutcome{
			Result:     Result{Data: placeholder, Loaded: false, Error: nil},
			FetchModel: fetch,
		}
	}

	// The transport's own loaded/error signal is authoritative once data
	// exists; it is passed through unmodified.
	return reconcileOutcome{
		Result: Result{
			Data:   decodeRecord(in.Descriptor, in.Record, in.EmptyObjectPlaceholder),
			Loaded: in.Record.Loaded,
			Error:  in.Record.LoadError,
		},
	}
}

// placeholderData is the "no data yet" value: an empty slice for lists, nil
// (or an empty object, per option) for single resources.
func placeholderData(isList, emptyObject bool) any {
	if isList {
		return []*unstructured.Unstructured{}
	}
	if emptyObject {
		return &unstructured.Unstructured{Object: map[string]any{}}
	}
	return nil
}

// decodeRecord extracts the caller-facing shape from the raw record payload:
// a flat item slice for lists, the object itself for singles. A record that
// carries only an error keeps the placeholder shape.
func decodeRecord(d *descriptor.Descriptor, rec *store.Record, emptyObject bool) any {
	if d.IsList {
		list, ok := rec.Data.(*unstructured.UnstructuredList)
		if !ok || list == nil {
			return placeholderData(true, emptyObject)
		}
		items := make([]*unstructured.Unstructured, 0, len(list.Items))
		for i := range list.Items {
			items = append(items, &list.Items[i])
		}
		return items
	}
	obj, ok := rec.Data.(*unstructured.Unstructured)
	if !ok || obj == nil {
		return placeholderData(false, emptyObject)
	}
	return obj
}
