package deformer

// InstanceBuilderOption is a functional option for configuring an instance during construction.
type InstanceBuilderOption func(*instance)

// withID is an option builder that sets the identifier of a producer instance.
func withID(id InstanceID) InstanceBuilderOption {
	return func(i *instance) {
		i.id = id
	}
}

// withDefault is an option builder that marks the scheduler's default instance.
func withDefault() InstanceBuilderOption {
	return func(i *instance) {
		i.isDefault = true
	}
}

// withGraph is an option builder that sets the asset and the compute graph created from it.
func withGraph(asset DeformerAsset, graph ComputeGraph) InstanceBuilderOption {
	return func(i *instance) {
		i.asset = asset
		i.graph = graph
	}
}
