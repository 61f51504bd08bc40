// Package l2cloud owns Layer 2 (Cloud) of the mapping data model.
//
// Responsibilities: organised point-cloud frames, rigid sensor→map
// transforms, per-point classification against the robot body and the
// collaborator interfaces through which frames, transforms and
// classifications reach the core.
// Key types: Frame, Transform, PointClass, PointClassifier,
// TransformResolver, BodyMask.
//
// Dependency rule: L2 depends on no other mapping layer.
package l2cloud
