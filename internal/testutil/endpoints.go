package testutil

import (
	"github.com/vk/treepump/internal/endpoint"
	"github.com/vk/treepump/internal/memendpoint"
	"github.com/vk/treepump/internal/model"
	"github.com/vk/treepump/internal/session"
)

// Zone names and the service account password used by Endpoints.
const (
	SourceZone      = "srcZone"
	DestinationZone = "dstZone"
	AdminPassword   = "rods-secret"
)

// Endpoints is a source and a destination endpoint sharing a service
// account "rods" that administers both.
type Endpoints struct {
	Source      *memendpoint.Server
	Destination *memendpoint.Server
}

// NewEndpoints creates both endpoints with their service account and a
// /zone/home collection on each side.
func NewEndpoints() *Endpoints {
	e := &Endpoints{
		Source:      memendpoint.New(SourceZone),
		Destination: memendpoint.New(DestinationZone),
	}
	e.Source.AddUser("rods", AdminPassword, true)
	e.Destination.AddUser("rods", AdminPassword, true)
	e.Source.MkColl("/"+SourceZone+"/home", model.Identity{})
	e.Destination.MkColl("/"+DestinationZone+"/home", model.Identity{})
	return e
}

// Admin returns the service identity on the source side.
func (e *Endpoints) Admin() model.Identity {
	return model.NewIdentity("rods", SourceZone)
}

// AddOwner registers name on both sides and returns its source identity.
func (e *Endpoints) AddOwner(name string) model.Identity {
	e.Destination.AddUser(name, "", false)
	return e.Source.AddUser(name, "", false)
}

// Credentials returns the service credentials for one side.
func (e *Endpoints) Credentials(side session.Side) endpoint.Credentials {
	zone := SourceZone
	if side == session.Destination {
		zone = DestinationZone
	}
	return endpoint.Credentials{Username: "rods", Zone: zone, Password: AdminPassword}
}

// Options returns session options migrating srcRoot into dstRoot.
func (e *Endpoints) Options(srcRoot, dstRoot string) session.Options {
	return session.Options{
		Source: session.Endpoint{
			Dialer:      e.Source,
			Credentials: e.Credentials(session.Source),
			LocalZone:   SourceZone,
			Root:        srcRoot,
		},
		Destination: session.Endpoint{
			Dialer:      e.Destination,
			Credentials: e.Credentials(session.Destination),
			LocalZone:   DestinationZone,
			Root:        dstRoot,
		},
	}
}
