package tools

// RegisterBuiltins installs the built-in tool set into a registry. Safe to
// call more than once; registration is first-wins.
func RegisterBuiltins(r *Registry) error {
	entries := []struct {
		tool Tool
		opts RegisterOptions
	}{
		{NewReadTool(), RegisterOptions{Category: CategoryFilesystem}},
		{NewWriteTool(), RegisterOptions{Category: CategoryFilesystem}},
		{NewEditTool(), RegisterOptions{Category: CategoryFilesystem}},
		{NewGlobTool(), RegisterOptions{Category: CategorySearch}},
		{NewGrepTool(), RegisterOptions{Category: CategorySearch}},
		{NewBashTool(), RegisterOptions{Category: CategoryExecution, RequiresCodeExecution: true}},
		{NewTaskTool(), RegisterOptions{Category: CategoryAgent}},
	}
	for _, e := range entries {
		if err := r.Register(e.tool, e.opts); err != nil {
			return err
		}
	}
	return nil
}
