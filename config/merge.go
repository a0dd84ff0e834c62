package config

// Merge returns base overlaid with override. Scalars set in override win,
// maps are unioned with override winning on collisions and nested sections
// merge recursively. Neither argument is modified.
func Merge(base, override *Document) *Document {
	if base == nil {
		base = &Document{}
	}
	if override == nil {
		override = &Document{}
	}
	return &Document{Server: mergeServer(base.Server, override.Server)}
}

func mergeServer(b, o *ServerDoc) *ServerDoc {
	if b == nil && o == nil {
		return nil
	}
	if b == nil {
		b = &ServerDoc{}
	}
	if o == nil {
		o = &ServerDoc{}
	}
	return &ServerDoc{
		Host:                pick(b.Host, o.Host),
		Port:                pick(b.Port, o.Port),
		Backlog:             pick(b.Backlog, o.Backlog),
		RequestEncoding:     pick(b.RequestEncoding, o.RequestEncoding),
		ResponseEncoding:    pick(b.ResponseEncoding, o.ResponseEncoding),
		Name:                pick(b.Name, o.Name),
		MimeDefault:         pick(b.MimeDefault, o.MimeDefault),
		ThreadPoolSize:      pick(b.ThreadPoolSize, o.ThreadPoolSize),
		EnableVirtualThread: pick(b.EnableVirtualThread, o.EnableVirtualThread),
		MimeTypes:           union(b.MimeTypes, o.MimeTypes),
		WebApp:              mergeWebApp(b.WebApp, o.WebApp),
		ForwardedHeaders:    mergeForwarded(b.ForwardedHeaders, o.ForwardedHeaders),
	}
}

func mergeWebApp(b, o *WebAppDoc) *WebAppDoc {
	if b == nil && o == nil {
		return nil
	}
	if b == nil {
		b = &WebAppDoc{}
	}
	if o == nil {
		o = &WebAppDoc{}
	}
	return &WebAppDoc{
		Name:              pick(b.Name, o.Name),
		FileListings:      pick(b.FileListings, o.FileListings),
		VirtualServerName: pick(b.VirtualServerName, o.VirtualServerName),
		SessionCookieName: pick(b.SessionCookieName, o.SessionCookieName),
		SessionTimeout:    pick(b.SessionTimeout, o.SessionTimeout),
	}
}

func mergeForwarded(b, o *ForwardedDoc) *ForwardedDoc {
	if b == nil && o == nil {
		return nil
	}
	if b == nil {
		b = &ForwardedDoc{}
	}
	if o == nil {
		o = &ForwardedDoc{}
	}
	return &ForwardedDoc{
		Proto: pick(b.Proto, o.Proto),
		Host:  pick(b.Host, o.Host),
		For:   pick(b.For, o.For),
	}
}

func pick[T any](b, o *T) *T {
	if o != nil {
		return o
	}
	return b
}

func union(b, o map[string]string) map[string]string {
	if b == nil && o == nil {
		return nil
	}
	out := make(map[string]string, len(b)+len(o))
	for k, v := range b {
		out[k] = v
	}
	for k, v := range o {
		out[k] = v
	}
	return out
}
