/*
Package flowdeploy deploys registry flow versions into a hierarchy of
process groups on one or more remote canvas engines.

# Overview

A deployment names a flow in a registry (directly or through a stored
template) and a logical parent path such as "OrgA/SiteB". The service
creates whatever part of the path is missing, deploys the flow as a new
group under it and can then wire the group into its parent, detach it from
version control and start or disable everything inside it.

Each engine is an instance, addressed by the id it was configured with:

	settings, err := config.Load("flowdeploy.yaml")
	if err != nil {
	    log.Fatal(err)
	}
	svc, err := flowdeploy.New(settings, flowdeploy.WithLogger(logger))
	if err != nil {
	    log.Fatal(err)
	}
	defer svc.Close()

	res, err := svc.Deploy(ctx, "prod", sequencer.Request{
	    Target:      sequencer.Target{RegistryID: "Default", BucketID: "sites", FlowID: "ingest"},
	    ParentPath:  "OrgA/SiteB",
	    PostActions: sequencer.PostActions{AutoConnect: true, Start: true},
	})

# Outcomes

A deployment either fails before the group exists, or succeeds. Steps that
run after the group exists (rename, parameter context, wiring, detach,
state change) only add warnings; the result's Status is then
"deployed_with_warnings". Every attempt is appended to the deployment
history.

# Errors

Failures carry a kind from the errors package: NotFound, Conflict,
BadRequest or RemoteFailure. Use errors.HTTPStatus to map them to a
response code.

# Packages

  - canvas: remote engine model, client interfaces and the REST client
  - pathtree: logical path index and resolver
  - sequencer: the deployment pipeline
  - wiring: port auto-connection and router rules
  - runstate: subtree run state changes
  - templates, history: persistence
  - config, observability: settings, logging, metrics and tracing
*/
package flowdeploy
